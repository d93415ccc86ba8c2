package evaluators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	for _, pt := range []models.PolicyType{
		models.PolicyTimeBased, models.PolicyLocationBased, models.PolicyAttributeBased,
	} {
		e, ok := r.Get(pt)
		require.True(t, ok, "missing evaluator for %s", pt)
		assert.Equal(t, pt, e.Type())
	}

	_, ok := r.Get(models.PolicyType("UNKNOWN"))
	assert.False(t, ok)
	err := r.ValidateRules(models.PolicyType("UNKNOWN"), models.JSONMap{})
	assert.True(t, models.IsCode(err, models.CodePolicyInvalidRules))
}

func TestTimeBasedSchedule(t *testing.T) {
	e := NewTimeBasedEvaluator()
	rules := models.JSONMap{
		"schedule": map[string]interface{}{
			"daysOfWeek": []interface{}{float64(1), float64(2), float64(3), float64(4), float64(5)},
			"startTime":  "09:00",
			"endTime":    "18:00",
			"timezone":   "Asia/Seoul",
		},
	}
	require.NoError(t, e.Validate(rules))

	// 2024-01-02 05:00 UTC is Tuesday 14:00 in Seoul.
	inside := &models.EvaluationContext{Timestamp: time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)}
	res, err := e.Evaluate(rules, inside)
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	// 2024-01-02 14:00 UTC is Tuesday 23:00 in Seoul, outside the window.
	outside := &models.EvaluationContext{Timestamp: time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)}
	res, err = e.Evaluate(rules, outside)
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)

	// 2024-01-06 05:00 UTC is Saturday in Seoul, the wrong day.
	weekend := &models.EvaluationContext{Timestamp: time.Date(2024, 1, 6, 5, 0, 0, 0, time.UTC)}
	res, err = e.Evaluate(rules, weekend)
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestTimeBasedOvernightWindow(t *testing.T) {
	e := NewTimeBasedEvaluator()
	rules := models.JSONMap{
		"schedule": map[string]interface{}{
			"startTime": "22:00",
			"endTime":   "06:00",
		},
	}

	res, err := e.Evaluate(rules, &models.EvaluationContext{
		Timestamp: time.Date(2024, 1, 2, 23, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	res, err = e.Evaluate(rules, &models.EvaluationContext{
		Timestamp: time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestTimeBasedDateRangeAndRecurring(t *testing.T) {
	e := NewTimeBasedEvaluator()
	rules := models.JSONMap{
		"dateRange": map[string]interface{}{
			"start": "2024-01-01T00:00:00Z",
			"end":   "2024-06-30T23:59:59Z",
		},
		"recurringPeriods": []interface{}{
			map[string]interface{}{"type": "monthly", "values": []interface{}{float64(1), float64(15)}},
		},
	}
	require.NoError(t, e.Validate(rules))

	res, err := e.Evaluate(rules, &models.EvaluationContext{
		Timestamp: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	// In range but wrong day of month.
	res, err = e.Evaluate(rules, &models.EvaluationContext{
		Timestamp: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)

	// Right day of month but out of range.
	res, err = e.Evaluate(rules, &models.EvaluationContext{
		Timestamp: time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestTimeBasedValidateRejects(t *testing.T) {
	e := NewTimeBasedEvaluator()

	cases := []models.JSONMap{
		{},
		{"unknown": map[string]interface{}{}},
		{"schedule": map[string]interface{}{"startTime": "09:00"}},
		{"schedule": map[string]interface{}{"startTime": "9am", "endTime": "18:00"}},
		{"schedule": map[string]interface{}{"timezone": "Not/AZone"}},
		{"dateRange": map[string]interface{}{"start": "2024-06-01", "end": "2024-01-01"}},
		{"recurringPeriods": []interface{}{map[string]interface{}{"type": "hourly", "values": []interface{}{float64(1)}}}},
	}
	for _, rules := range cases {
		err := e.Validate(rules)
		assert.True(t, models.IsCode(err, models.CodePolicyInvalidRules), "rules %v should be rejected", rules)
	}
}

func TestLocationDeniedTakesPrecedence(t *testing.T) {
	e := NewLocationBasedEvaluator()
	rules := models.JSONMap{
		"allowedLocations": []interface{}{
			map[string]interface{}{"country": "KR"},
		},
		"deniedLocations": []interface{}{
			map[string]interface{}{"city": "busan"},
		},
	}
	require.NoError(t, e.Validate(rules))

	res, err := e.Evaluate(rules, &models.EvaluationContext{Country: "KR", City: "Seoul"})
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	// Denied city wins even though the country is allowed. Match is
	// case-insensitive.
	res, err = e.Evaluate(rules, &models.EvaluationContext{Country: "KR", City: "Busan"})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)

	res, err = e.Evaluate(rules, &models.EvaluationContext{Country: "US", City: "Portland"})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestLocationIPMatching(t *testing.T) {
	e := NewLocationBasedEvaluator()

	cases := []struct {
		pattern string
		addr    string
		want    bool
	}{
		{"10.0.0.5", "10.0.0.5", true},
		{"10.0.0.5", "10.0.0.6", false},
		{"10.0.0.0/24", "10.0.0.99", true},
		{"10.0.0.0/24", "10.0.1.1", false},
		{"192.168.*.*", "192.168.4.20", true},
		{"192.168.*.*", "192.169.4.20", false},
		{"10.0.0.?", "10.0.0.7", true},
	}
	for _, tc := range cases {
		rules := models.JSONMap{
			"allowedLocations": []interface{}{map[string]interface{}{"ip": tc.pattern}},
		}
		res, err := e.Evaluate(rules, &models.EvaluationContext{IPAddress: tc.addr})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.IsApplicable, "pattern %s addr %s", tc.pattern, tc.addr)
	}
}

func TestLocationRadius(t *testing.T) {
	e := NewLocationBasedEvaluator()
	// Center on Seoul City Hall, 20 km radius.
	rules := models.JSONMap{
		"allowedLocations": []interface{}{
			map[string]interface{}{"latitude": 37.5665, "longitude": 126.9780, "radiusKm": 20.0},
		},
	}
	require.NoError(t, e.Validate(rules))

	// Incheon is roughly 27 km away; Gangnam roughly 8 km.
	gangnam := &models.EvaluationContext{Latitude: floatPtr(37.4979), Longitude: floatPtr(127.0276)}
	res, err := e.Evaluate(rules, gangnam)
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	incheon := &models.EvaluationContext{Latitude: floatPtr(37.4563), Longitude: floatPtr(126.7052)}
	res, err = e.Evaluate(rules, incheon)
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)

	// No coordinates in context: cannot match.
	res, err = e.Evaluate(rules, &models.EvaluationContext{})
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestLocationValidateRejects(t *testing.T) {
	e := NewLocationBasedEvaluator()

	cases := []models.JSONMap{
		{},
		{"somewhere": []interface{}{}},
		{"allowedLocations": []interface{}{map[string]interface{}{}}},
		{"allowedLocations": []interface{}{map[string]interface{}{"ip": "10.0.0.0/99"}}},
		{"allowedLocations": []interface{}{map[string]interface{}{"ip": "not-an-ip"}}},
		{"deniedLocations": []interface{}{map[string]interface{}{"radiusKm": 5.0}}},
	}
	for _, rules := range cases {
		err := e.Validate(rules)
		assert.True(t, models.IsCode(err, models.CodePolicyInvalidRules), "rules %v should be rejected", rules)
	}
}

func TestAttributeOperators(t *testing.T) {
	e := NewAttributeBasedEvaluator()
	evalCtx := &models.EvaluationContext{
		UserAttributes: models.JSONMap{
			"department": map[string]interface{}{"name": "engineering"},
			"level":      float64(4),
			"teams":      []interface{}{"platform", "infra"},
			"email":      "dev@example.com",
		},
	}

	cases := []struct {
		name string
		rule map[string]interface{}
		want bool
	}{
		{"equals", map[string]interface{}{"field": "department.name", "operator": "equals", "value": "engineering"}, true},
		{"equals numeric", map[string]interface{}{"field": "level", "operator": "equals", "value": float64(4)}, true},
		{"not_equals", map[string]interface{}{"field": "department.name", "operator": "not_equals", "value": "sales"}, true},
		{"contains string", map[string]interface{}{"field": "email", "operator": "contains", "value": "@example."}, true},
		{"contains list", map[string]interface{}{"field": "teams", "operator": "contains", "value": "infra"}, true},
		{"in", map[string]interface{}{"field": "department.name", "operator": "in", "value": []interface{}{"engineering", "design"}}, true},
		{"not_in", map[string]interface{}{"field": "department.name", "operator": "not_in", "value": []interface{}{"sales"}}, true},
		{"greater_than", map[string]interface{}{"field": "level", "operator": "greater_than", "value": float64(3)}, true},
		{"less_than", map[string]interface{}{"field": "level", "operator": "less_than", "value": float64(3)}, false},
		{"between", map[string]interface{}{"field": "level", "operator": "between", "value": []interface{}{float64(2), float64(5)}}, true},
		{"missing field equals nothing", map[string]interface{}{"field": "missing.path", "operator": "equals", "value": "x"}, false},
		{"missing field not_equals", map[string]interface{}{"field": "missing.path", "operator": "not_equals", "value": "x"}, true},
		{"missing field not_in", map[string]interface{}{"field": "missing.path", "operator": "not_in", "value": []interface{}{"x"}}, true},
		{"missing field contains nothing", map[string]interface{}{"field": "missing.path", "operator": "contains", "value": "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rules := models.JSONMap{"userAttributes": []interface{}{tc.rule}}
			res, err := e.Evaluate(rules, evalCtx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.IsApplicable)
		})
	}
}

func TestAttributeCombiners(t *testing.T) {
	e := NewAttributeBasedEvaluator()
	evalCtx := &models.EvaluationContext{
		UserAttributes: models.JSONMap{"dept": "infra", "level": float64(2)},
	}

	// AND by default: first matches, second does not.
	andRules := models.JSONMap{
		"userAttributes": []interface{}{
			map[string]interface{}{"field": "dept", "operator": "equals", "value": "infra"},
			map[string]interface{}{"field": "level", "operator": "greater_than", "value": float64(5)},
		},
	}
	res, err := e.Evaluate(andRules, evalCtx)
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)

	// OR on the second rule rescues the group.
	orRules := models.JSONMap{
		"userAttributes": []interface{}{
			map[string]interface{}{"field": "level", "operator": "greater_than", "value": float64(5)},
			map[string]interface{}{"field": "dept", "operator": "equals", "value": "infra", "condition": "OR"},
		},
	}
	res, err = e.Evaluate(orRules, evalCtx)
	require.NoError(t, err)
	assert.True(t, res.IsApplicable)

	// Groups are ANDed: user group passes, environment group fails.
	grouped := models.JSONMap{
		"userAttributes": []interface{}{
			map[string]interface{}{"field": "dept", "operator": "equals", "value": "infra"},
		},
		"environmentAttributes": []interface{}{
			map[string]interface{}{"field": "stage", "operator": "equals", "value": "production"},
		},
	}
	res, err = e.Evaluate(grouped, evalCtx)
	require.NoError(t, err)
	assert.False(t, res.IsApplicable)
}

func TestAttributeValidateRejects(t *testing.T) {
	e := NewAttributeBasedEvaluator()

	cases := []models.JSONMap{
		{},
		{"otherAttributes": []interface{}{}},
		{"userAttributes": []interface{}{map[string]interface{}{"operator": "equals", "value": "x"}}},
		{"userAttributes": []interface{}{map[string]interface{}{"field": "a", "operator": "matches", "value": "x"}}},
		{"userAttributes": []interface{}{map[string]interface{}{"field": "a", "operator": "in", "value": "not-a-list"}}},
		{"userAttributes": []interface{}{map[string]interface{}{"field": "a", "operator": "between", "value": []interface{}{float64(1)}}}},
		{"userAttributes": []interface{}{map[string]interface{}{"field": "a", "operator": "equals", "value": "x", "condition": "XOR"}}},
	}
	for _, rules := range cases {
		err := e.Validate(rules)
		assert.True(t, models.IsCode(err, models.CodePolicyInvalidRules), "rules %v should be rejected", rules)
	}
}
