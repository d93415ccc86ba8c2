package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/models"
)

func TestValidateConditionsNil(t *testing.T) {
	out, err := ValidateConditions(nil, "grant_conditions")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestValidateConditionsUnknownSchema(t *testing.T) {
	_, err := ValidateConditions(models.JSONMap{"note": "x"}, "nope")
	assert.True(t, models.IsCode(err, models.CodeInvalidConditions))
}

func TestValidateConditionsUnknownKey(t *testing.T) {
	_, err := ValidateConditions(models.JSONMap{"dropTables": true}, "grant_conditions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropTables")
}

func TestValidateConditionsTypeMismatch(t *testing.T) {
	_, err := ValidateConditions(models.JSONMap{"maxUses": "ten"}, "grant_conditions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxUses")

	_, err = ValidateConditions(models.JSONMap{"ipRanges": "10.0.0.0/8"}, "grant_conditions")
	require.Error(t, err)
}

func TestValidateConditionsSanitizesStrings(t *testing.T) {
	out, err := ValidateConditions(models.JSONMap{
		"departmentId": "dep-1'; DROP--",
		"ipRanges":     []interface{}{"10.0.%.0"},
	}, "grant_conditions")
	require.NoError(t, err)

	assert.Equal(t, "dep-1 DROP--", out["departmentId"])
	assert.Equal(t, []interface{}{"10.0..0"}, out["ipRanges"])
}

func TestValidateConditionsSizeLimit(t *testing.T) {
	_, err := ValidateConditions(models.JSONMap{
		"note": strings.Repeat("a", 9*1024),
	}, "grant_conditions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bytes")
}

func TestValidateConditionsDepthLimit(t *testing.T) {
	deep := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": map[string]interface{}{
					"d": map[string]interface{}{"e": 1},
				},
			},
		},
	}
	_, err := ValidateConditions(models.JSONMap{"userAttributes": deep}, "grant_conditions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested")
}

func TestSanitizeConditionString(t *testing.T) {
	assert.Equal(t, "dep-1 DROP--", SanitizeConditionString("dep-1'; DROP--"))
	assert.Equal(t, "10.0..0", SanitizeConditionString("10.0.%.0"))
	assert.Equal(t, "ab", SanitizeConditionString("a\x00\nb"))

	// Condition values are bounded by the blob size cap, not truncated.
	long := strings.Repeat("x", 150)
	assert.Equal(t, long, SanitizeConditionString(long))
}

func TestSanitizeSearchInput(t *testing.T) {
	assert.Equal(t, "engineering", SanitizeSearchInput("  engineering  "))
	assert.Equal(t, " OR 1=1 --", SanitizeSearchInput(`%' OR 1=1; --_\`))

	long := strings.Repeat("x", 150)
	assert.Len(t, SanitizeSearchInput(long), 100)
}
