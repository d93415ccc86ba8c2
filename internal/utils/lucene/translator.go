// Package lucene translates Lucene-style filter expressions into
// parameterized SQL WHERE fragments over a whitelisted column set. Operators
// use history and check-log listings with queries like:
//
//	entity_type:user_permission AND operation:grant
//	performed_by:admin-* AND performed_at:[2026-01-01 TO 2026-02-01]
//	NOT is_rollbackable:false
package lucene

import (
	"fmt"
	"strings"

	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"

	"github.com/platformbuilds/authz-core/internal/models"
)

// HistoryColumns is the whitelisted field set for change-history queries.
var HistoryColumns = map[string]string{
	"entity_type":     "entity_type",
	"entity_id":       "entity_id",
	"operation":       "operation",
	"performed_by":    "performed_by",
	"performed_at":    "performed_at",
	"is_rollbackable": "is_rollbackable",
}

// CheckLogColumns is the whitelisted field set for check-log queries.
var CheckLogColumns = map[string]string{
	"user_id":    "user_profile_id",
	"resource":   "resource",
	"action":     "action",
	"scope":      "scope",
	"is_allowed": "is_allowed",
	"created_at": "created_at",
}

// Translator renders Lucene expressions to SQL against one column set.
type Translator struct {
	columns map[string]string
}

// NewTranslator builds a translator over the given field→column whitelist.
func NewTranslator(columns map[string]string) *Translator {
	return &Translator{columns: columns}
}

// Translate parses q and returns a parameterized SQL fragment plus its
// arguments. Unsupported syntax or non-whitelisted fields yield a
// PERMISSION_INVALID_QUERY error.
func (t *Translator) Translate(q string) (string, []interface{}, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", nil, nil
	}

	parsed, err := lucene.Parse(q)
	if err != nil {
		return "", nil, models.ErrValidationf(models.CodeInvalidQuery,
			"cannot parse query: %v", err)
	}

	clause, args, err := t.render(parsed)
	if err != nil {
		return "", nil, err
	}
	return clause, args, nil
}

func (t *Translator) render(e *expr.Expression) (string, []interface{}, error) {
	switch e.Op {
	case expr.And, expr.Or:
		leftExpr, ok := e.Left.(*expr.Expression)
		if !ok {
			return "", nil, invalidf("expected expression for left operand")
		}
		left, leftArgs, err := t.render(leftExpr)
		if err != nil {
			return "", nil, err
		}
		rightExpr, ok := e.Right.(*expr.Expression)
		if !ok {
			return "", nil, invalidf("expected expression for right operand")
		}
		right, rightArgs, err := t.render(rightExpr)
		if err != nil {
			return "", nil, err
		}
		op := "AND"
		if e.Op == expr.Or {
			op = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), append(leftArgs, rightArgs...), nil

	case expr.Not:
		rightExpr, ok := e.Right.(*expr.Expression)
		if !ok {
			return "", nil, invalidf("expected expression after NOT")
		}
		inner, args, err := t.render(rightExpr)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("NOT %s", inner), args, nil

	case expr.Equals:
		field, err := t.column(e.Left)
		if err != nil {
			return "", nil, err
		}

		// field:value with a wildcard value arrives as Equals over a Wild
		// literal in some go-lucene versions; handle both.
		if rightExpr, ok := e.Right.(*expr.Expression); ok {
			switch rightExpr.Op {
			case expr.Literal:
				value := literalValue(rightExpr.Left)
				return fmt.Sprintf("%s = ?", field), []interface{}{value}, nil
			case expr.Wild:
				if pattern, ok := rightExpr.Left.(string); ok {
					return fmt.Sprintf("%s LIKE ?", field), []interface{}{wildcardToLike(pattern)}, nil
				}
			}
		}
		return "", nil, invalidf("unsupported value for field %s", field)

	case expr.Like:
		field, err := t.column(e.Left)
		if err != nil {
			return "", nil, err
		}
		if rightExpr, ok := e.Right.(*expr.Expression); ok && rightExpr.Op == expr.Wild {
			if pattern, ok := rightExpr.Left.(string); ok {
				return fmt.Sprintf("%s LIKE ?", field), []interface{}{wildcardToLike(pattern)}, nil
			}
		}
		return "", nil, invalidf("unsupported LIKE pattern for field %s", field)

	case expr.Range:
		field, err := t.column(e.Left)
		if err != nil {
			return "", nil, err
		}
		boundary, ok := e.Right.(*expr.RangeBoundary)
		if !ok {
			return "", nil, invalidf("malformed range for field %s", field)
		}
		min := boundaryValue(boundary.Min)
		max := boundaryValue(boundary.Max)
		switch {
		case min != nil && max != nil:
			return fmt.Sprintf("%s BETWEEN ? AND ?", field), []interface{}{min, max}, nil
		case min != nil:
			return fmt.Sprintf("%s >= ?", field), []interface{}{min}, nil
		case max != nil:
			return fmt.Sprintf("%s <= ?", field), []interface{}{max}, nil
		}
		return "", nil, invalidf("empty range for field %s", field)

	case expr.Fuzzy:
		return "", nil, invalidf("fuzzy queries are not supported")

	default:
		return "", nil, invalidf("unsupported query construct %v", e.Op)
	}
}

// column resolves the left operand to a whitelisted SQL column.
func (t *Translator) column(left interface{}) (string, error) {
	leftExpr, ok := left.(*expr.Expression)
	if !ok || leftExpr.Op != expr.Literal {
		return "", invalidf("expected a field name")
	}
	col, ok := leftExpr.Left.(expr.Column)
	if !ok {
		return "", invalidf("expected a field name")
	}
	sqlColumn, allowed := t.columns[string(col)]
	if !allowed {
		return "", invalidf("field %q is not queryable", string(col))
	}
	return sqlColumn, nil
}

func literalValue(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		// go-lucene keeps quotes on phrases
		return strings.Trim(s, `"`)
	}
	return v
}

func boundaryValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if e, ok := v.(*expr.Expression); ok {
		v = e.Left
	}
	if s, ok := v.(string); ok {
		s = strings.Trim(s, `"`)
		if s == "*" {
			return nil
		}
		return s
	}
	return v
}

// wildcardToLike converts Lucene wildcards (* ?) to SQL LIKE syntax,
// escaping any literal LIKE metacharacters in the pattern first.
func wildcardToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func invalidf(format string, args ...interface{}) error {
	return models.ErrValidationf(models.CodeInvalidQuery, format, args...)
}
