package evaluators

import (
	"fmt"
	"strings"

	"github.com/platformbuilds/authz-core/internal/models"
)

// Attribute rule operators.
const (
	opEquals      = "equals"
	opNotEquals   = "not_equals"
	opContains    = "contains"
	opIn          = "in"
	opNotIn       = "not_in"
	opGreaterThan = "greater_than"
	opLessThan    = "less_than"
	opBetween     = "between"
)

var attributeOperators = map[string]bool{
	opEquals:      true,
	opNotEquals:   true,
	opContains:    true,
	opIn:          true,
	opNotIn:       true,
	opGreaterThan: true,
	opLessThan:    true,
	opBetween:     true,
}

// AttributeBasedEvaluator matches context attributes against rule groups.
// The three groups (user, resource, environment) are ANDed; within a group
// rules combine left to right, AND by default, with condition=OR flipping
// the combiner for that rule. Missing fields resolve to undefined, which
// equals nothing and is contained by nothing.
type AttributeBasedEvaluator struct{}

func NewAttributeBasedEvaluator() *AttributeBasedEvaluator {
	return &AttributeBasedEvaluator{}
}

func (e *AttributeBasedEvaluator) Type() models.PolicyType { return models.PolicyAttributeBased }

var attributeGroups = []string{"userAttributes", "resourceAttributes", "environmentAttributes"}

func (e *AttributeBasedEvaluator) Evaluate(rules models.JSONMap, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error) {
	if evalCtx == nil {
		evalCtx = &models.EvaluationContext{}
	}
	attrs := map[string]models.JSONMap{
		"userAttributes":        evalCtx.UserAttributes,
		"resourceAttributes":    evalCtx.ResourceAttributes,
		"environmentAttributes": evalCtx.EnvironmentAttributes,
	}

	for _, group := range attributeGroups {
		raw, ok := rules[group]
		if !ok {
			continue
		}
		match, err := e.matchGroup(raw, attrs[group], group)
		if err != nil {
			return nil, err
		}
		if !match {
			return notApplicable(fmt.Sprintf("%s do not match", group)), nil
		}
	}
	return applicable("all attribute groups match"), nil
}

func (e *AttributeBasedEvaluator) matchGroup(raw interface{}, attrs models.JSONMap, group string) (bool, error) {
	ruleList, ok := asSlice(raw)
	if !ok {
		return false, invalidRules("%s must be a list of rules", group)
	}
	if len(ruleList) == 0 {
		return true, nil
	}

	var combined bool
	for i, ruleRaw := range ruleList {
		path := fmt.Sprintf("%s[%d]", group, i)
		rule, err := parseAttributeRule(ruleRaw, path)
		if err != nil {
			return false, err
		}
		match, err := matchAttributeRule(rule, attrs, path)
		if err != nil {
			return false, err
		}
		if i == 0 {
			combined = match
			continue
		}
		if rule.or {
			combined = combined || match
		} else {
			combined = combined && match
		}
	}
	return combined, nil
}

type attributeRule struct {
	field    string
	operator string
	value    interface{}
	or       bool
}

func parseAttributeRule(raw interface{}, path string) (*attributeRule, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, invalidRules("%s must be an object", path)
	}
	field, ok := asString(m["field"])
	if !ok || field == "" {
		return nil, invalidRules("%s.field must be a non-empty string", path)
	}
	operator, ok := asString(m["operator"])
	if !ok || !attributeOperators[operator] {
		return nil, invalidRules("%s.operator %q is not a recognized operator", path, m["operator"])
	}
	value, ok := m["value"]
	if !ok {
		return nil, invalidRules("%s.value is required", path)
	}

	switch operator {
	case opIn, opNotIn:
		if _, ok := asSlice(value); !ok {
			return nil, invalidRules("%s.value must be a list for operator %q", path, operator)
		}
	case opBetween:
		pair, ok := asSlice(value)
		if !ok || len(pair) != 2 {
			return nil, invalidRules("%s.value must be a 2-element tuple for operator %q", path, operator)
		}
	}

	rule := &attributeRule{field: field, operator: operator, value: value}
	if condRaw, ok := m["condition"]; ok {
		cond, ok := asString(condRaw)
		if !ok || (cond != "AND" && cond != "OR") {
			return nil, invalidRules("%s.condition must be AND or OR", path)
		}
		rule.or = cond == "OR"
	}
	return rule, nil
}

func matchAttributeRule(rule *attributeRule, attrs models.JSONMap, path string) (bool, error) {
	actual, present := resolvePath(attrs, rule.field)

	switch rule.operator {
	case opEquals:
		return present && looseEquals(actual, rule.value), nil
	case opNotEquals:
		return !(present && looseEquals(actual, rule.value)), nil
	case opContains:
		if !present {
			return false, nil
		}
		return looseContains(actual, rule.value), nil
	case opIn:
		if !present {
			return false, nil
		}
		list, _ := asSlice(rule.value)
		for _, v := range list {
			if looseEquals(actual, v) {
				return true, nil
			}
		}
		return false, nil
	case opNotIn:
		if !present {
			return true, nil
		}
		list, _ := asSlice(rule.value)
		for _, v := range list {
			if looseEquals(actual, v) {
				return false, nil
			}
		}
		return true, nil
	case opGreaterThan:
		a, aOK := asFloat(actual)
		b, bOK := asFloat(rule.value)
		return present && aOK && bOK && a > b, nil
	case opLessThan:
		a, aOK := asFloat(actual)
		b, bOK := asFloat(rule.value)
		return present && aOK && bOK && a < b, nil
	case opBetween:
		pair, _ := asSlice(rule.value)
		a, aOK := asFloat(actual)
		lo, loOK := asFloat(pair[0])
		hi, hiOK := asFloat(pair[1])
		return present && aOK && loOK && hiOK && a >= lo && a <= hi, nil
	}
	return false, invalidRules("%s.operator %q is not a recognized operator", path, rule.operator)
}

// resolvePath walks a dot-separated field path through nested maps.
func resolvePath(attrs models.JSONMap, field string) (interface{}, bool) {
	if attrs == nil {
		return nil, false
	}
	parts := strings.Split(field, ".")
	var current interface{} = map[string]interface{}(attrs)
	for _, part := range parts {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEquals compares scalars numerically when both sides are numeric,
// otherwise by string rendering.
func looseEquals(a, b interface{}) bool {
	if af, aOK := asFloat(a); aOK {
		if bf, bOK := asFloat(b); bOK {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

// looseContains: a string contains a substring; a list contains an equal
// element.
func looseContains(actual, value interface{}) bool {
	if list, ok := asSlice(actual); ok {
		for _, v := range list {
			if looseEquals(v, value) {
				return true
			}
		}
		return false
	}
	if s, ok := asString(actual); ok {
		return strings.Contains(s, stringify(value))
	}
	return false
}

func (e *AttributeBasedEvaluator) Validate(rules models.JSONMap) error {
	if len(rules) == 0 {
		return invalidRules("attribute-based policy requires at least one rule group")
	}
	hasAny := false
	for key := range rules {
		switch key {
		case "userAttributes", "resourceAttributes", "environmentAttributes":
			hasAny = true
		default:
			return invalidRules("unknown attribute-based rule group %q", key)
		}
	}
	if !hasAny {
		return invalidRules("attribute-based policy requires at least one rule group")
	}

	for _, group := range attributeGroups {
		raw, ok := rules[group]
		if !ok {
			continue
		}
		ruleList, ok := asSlice(raw)
		if !ok {
			return invalidRules("%s must be a list of rules", group)
		}
		for i, ruleRaw := range ruleList {
			if _, err := parseAttributeRule(ruleRaw, fmt.Sprintf("%s[%d]", group, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
