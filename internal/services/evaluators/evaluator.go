// Package evaluators implements the pluggable policy rule engines. Each
// policy type (time, location, attribute) has one evaluator sharing a
// uniform contract: static rule validation at policy-write time and
// context evaluation at check time.
package evaluators

import (
	"fmt"
	"strconv"

	"github.com/platformbuilds/authz-core/internal/models"
)

// Evaluator is implemented once per policy type.
type Evaluator interface {
	// Type names the policy type this evaluator handles.
	Type() models.PolicyType

	// Evaluate decides whether the rules apply under the given context.
	// Evaluators fill IsApplicable, Reason and Metadata; the caller attaches
	// the policy's grant/deny permission lists when applicable.
	Evaluate(rules models.JSONMap, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error)

	// Validate rejects structurally invalid rules. Runs before a policy is
	// persisted so bad rule blobs never reach the check path.
	Validate(rules models.JSONMap) error
}

// Registry dispatches by policy type.
type Registry struct {
	evaluators map[models.PolicyType]Evaluator
}

// NewRegistry returns a registry with the built-in evaluators installed.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[models.PolicyType]Evaluator)}
	r.Register(NewTimeBasedEvaluator())
	r.Register(NewLocationBasedEvaluator())
	r.Register(NewAttributeBasedEvaluator())
	return r
}

// Register installs an evaluator, replacing any previous one for its type.
func (r *Registry) Register(e Evaluator) {
	r.evaluators[e.Type()] = e
}

// Get returns the evaluator for a policy type.
func (r *Registry) Get(t models.PolicyType) (Evaluator, bool) {
	e, ok := r.evaluators[t]
	return e, ok
}

// ValidateRules runs the matching evaluator's static validation.
func (r *Registry) ValidateRules(t models.PolicyType, rules models.JSONMap) error {
	e, ok := r.Get(t)
	if !ok {
		return models.ErrValidationf(models.CodePolicyInvalidRules,
			"no evaluator registered for policy type %q", t)
	}
	return e.Validate(rules)
}

// Evaluate runs the matching evaluator against the context.
func (r *Registry) Evaluate(t models.PolicyType, rules models.JSONMap, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error) {
	e, ok := r.Get(t)
	if !ok {
		return nil, models.ErrValidationf(models.CodePolicyInvalidRules,
			"no evaluator registered for policy type %q", t)
	}
	return e.Evaluate(rules, evalCtx)
}

// notApplicable is the shared negative result shape.
func notApplicable(reason string) *models.PolicyEvaluationResult {
	return &models.PolicyEvaluationResult{IsApplicable: false, Reason: reason}
}

func applicable(reason string) *models.PolicyEvaluationResult {
	return &models.PolicyEvaluationResult{IsApplicable: true, Reason: reason}
}

func invalidRules(format string, args ...interface{}) error {
	return models.ErrValidationf(models.CodePolicyInvalidRules, format, args...)
}

// --- loose JSON coercion helpers shared by the evaluators. Rule blobs come
// off a jsonb column so numbers arrive as float64 and lists as []interface{}.

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case models.JSONMap:
		return m, true
	}
	return nil, false
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(v interface{}) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// stringify renders a loose JSON scalar for equality and containment.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
