package utils

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/platformbuilds/authz-core/internal/models"
)

// Condition blob limits. Blobs eventually flow into SQL WHERE fragments and
// evaluation contexts; keep them small and shallow.
const (
	maxConditionsBytes = 8 * 1024
	maxConditionsDepth = 4
)

// conditionSchema whitelists the keys and value kinds one named schema
// accepts. Unknown keys are rejected, not dropped.
type conditionSchema struct {
	allowedKeys map[string]valueKind
}

type valueKind int

const (
	kindAny valueKind = iota
	kindString
	kindNumber
	kindBool
	kindStringList
	kindObject
)

var conditionSchemas = map[string]conditionSchema{
	"grant_conditions": {
		allowedKeys: map[string]valueKind{
			"departmentId":   kindString,
			"schoolId":       kindString,
			"positionId":     kindString,
			"ipRanges":       kindStringList,
			"maxUses":        kindNumber,
			"requiresMFA":    kindBool,
			"userAttributes": kindObject,
			"note":           kindString,
		},
	},
	"policy_assignment_conditions": {
		allowedKeys: map[string]valueKind{
			"departmentId": kindString,
			"positionId":   kindString,
			"schoolId":     kindString,
			"environment":  kindString,
			"note":         kindString,
		},
	},
}

// ValidateConditions schema-checks and sanitizes a JSON condition blob. It
// returns the sanitized copy or a validation error naming the offending
// path. A nil blob is valid and returns nil.
func ValidateConditions(conditions models.JSONMap, schemaName string) (models.JSONMap, error) {
	if conditions == nil {
		return nil, nil
	}

	schema, ok := conditionSchemas[schemaName]
	if !ok {
		return nil, models.ErrValidationf(models.CodeInvalidConditions,
			"unknown conditions schema %q", schemaName)
	}

	raw, err := json.Marshal(conditions)
	if err != nil {
		return nil, models.ErrValidationf(models.CodeInvalidConditions,
			"conditions are not serializable: %v", err)
	}
	if len(raw) > maxConditionsBytes {
		return nil, models.ErrValidationf(models.CodeInvalidConditions,
			"conditions exceed %d bytes", maxConditionsBytes)
	}

	sanitized := make(models.JSONMap, len(conditions))
	for key, value := range conditions {
		kind, allowed := schema.allowedKeys[key]
		if !allowed {
			return nil, models.ErrValidationf(models.CodeInvalidConditions,
				"unknown conditions key %q", key)
		}
		clean, err := sanitizeValue(key, value, kind, 1)
		if err != nil {
			return nil, err
		}
		sanitized[key] = clean
	}
	return sanitized, nil
}

func sanitizeValue(path string, value interface{}, kind valueKind, depth int) (interface{}, error) {
	if depth > maxConditionsDepth {
		return nil, models.ErrValidationf(models.CodeInvalidConditions,
			"conditions nested deeper than %d at %q", maxConditionsDepth, path)
	}

	switch kind {
	case kindString:
		s, ok := value.(string)
		if !ok {
			return nil, typeError(path, "string", value)
		}
		return SanitizeConditionString(s), nil

	case kindNumber:
		switch value.(type) {
		case float64, int, int64, json.Number:
			return value, nil
		}
		return nil, typeError(path, "number", value)

	case kindBool:
		if _, ok := value.(bool); !ok {
			return nil, typeError(path, "boolean", value)
		}
		return value, nil

	case kindStringList:
		list, ok := value.([]interface{})
		if !ok {
			return nil, typeError(path, "string list", value)
		}
		out := make([]interface{}, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, typeError(fmt.Sprintf("%s[%d]", path, i), "string", item)
			}
			out = append(out, SanitizeConditionString(s))
		}
		return out, nil

	case kindObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			if m, isMap := value.(models.JSONMap); isMap {
				obj = map[string]interface{}(m)
			} else {
				return nil, typeError(path, "object", value)
			}
		}
		out := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			clean, err := sanitizeValue(path+"."+k, v, kindAny, depth+1)
			if err != nil {
				return nil, err
			}
			out[SanitizeConditionString(k)] = clean
		}
		return out, nil

	default: // kindAny
		switch v := value.(type) {
		case string:
			return SanitizeConditionString(v), nil
		case map[string]interface{}:
			return sanitizeValue(path, v, kindObject, depth)
		case []interface{}:
			out := make([]interface{}, 0, len(v))
			for i, item := range v {
				clean, err := sanitizeValue(fmt.Sprintf("%s[%d]", path, i), item, kindAny, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, clean)
			}
			return out, nil
		default:
			return value, nil
		}
	}
}

func typeError(path, want string, got interface{}) error {
	return models.ErrValidationf(models.CodeInvalidConditions,
		"conditions key %q must be a %s, got %T", path, want, got)
}

// SanitizeConditionString strips quoting, SQL-wildcard, and control
// characters from a condition value or key. Condition strings keep their
// full length; the blob size cap already bounds them.
func SanitizeConditionString(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '%', '_', '\\', '\'', '"', ';':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeSearchInput strips SQL-wildcard and quoting characters from
// free-form search text and bounds it to 100 runes. The result is only ever
// bound as a LIKE parameter; this keeps wildcards literal.
func SanitizeSearchInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '%', '_', '\\', '\'', '"', ';':
			return -1
		}
		return r
	}, s)
	runes := []rune(s)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
