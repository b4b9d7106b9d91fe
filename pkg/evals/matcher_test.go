package evals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(name string, args map[string]any) ToolCall {
	return ToolCall{ToolName: name, Arguments: args}
}

func TestMatchPositiveEmptyActualFails(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("search", nil), call("fetch", nil)}
	report := Match(expected, nil, false)

	assert.False(t, report.Passed)
	assert.Equal(t, expected, report.Missing)
	assert.Empty(t, report.Unexpected)
	assert.Empty(t, report.ArgumentMismatches)
}

func TestMatchNegativeMode(t *testing.T) {
	t.Parallel()

	report := Match(nil, nil, true)
	assert.True(t, report.Passed)

	actual := []ToolCall{call("search", map[string]any{"q": "x"})}
	report = Match(nil, actual, true)
	assert.False(t, report.Passed)
	assert.Equal(t, actual, report.Unexpected)
	assert.Empty(t, report.Missing)
}

func TestMatchSubsetEqualityAllowsExtraActualKeys(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("x", map[string]any{"a": 1})}
	actual := []ToolCall{call("x", map[string]any{"a": 1, "b": 2})}

	report := Match(expected, actual, false)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Missing)
	assert.Empty(t, report.Unexpected)
	assert.Empty(t, report.ArgumentMismatches)
}

func TestMatchArgumentMismatchFailsWithoutMissing(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("x", map[string]any{"a": 1})}
	actual := []ToolCall{call("x", map[string]any{"a": 2})}

	report := Match(expected, actual, false)
	assert.False(t, report.Passed)
	assert.Empty(t, report.Missing)
	require.Len(t, report.ArgumentMismatches, 1)
	assert.Equal(t, "x", report.ArgumentMismatches[0].ToolName)
	assert.Equal(t, map[string]any{"a": 1}, report.ArgumentMismatches[0].Expected)
	assert.Equal(t, map[string]any{"a": 2}, report.ArgumentMismatches[0].Actual)
}

func TestMatchExpectationWithoutArgumentsMatchesAnyCall(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("x", nil)}
	actual := []ToolCall{call("x", map[string]any{"whatever": true})}

	report := Match(expected, actual, false)
	assert.True(t, report.Passed)
}

func TestMatchUnexpectedAloneDoesNotFail(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("search", nil)}
	actual := []ToolCall{call("search", nil), call("fetch", nil)}

	report := Match(expected, actual, false)
	assert.True(t, report.Passed)
	require.Len(t, report.Unexpected, 1)
	assert.Equal(t, "fetch", report.Unexpected[0].ToolName)
}

func TestMatchNumericTypesCompareAcrossJSONDecoding(t *testing.T) {
	t.Parallel()

	// A spec decoded from JSON carries float64 where a literal carries int.
	expected := []ToolCall{call("x", map[string]any{"n": 3})}
	actual := []ToolCall{call("x", map[string]any{"n": float64(3)})}

	report := Match(expected, actual, false)
	assert.True(t, report.Passed)
}

func TestMatchNestedArgumentsDeepEqual(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("x", map[string]any{
		"filter": map[string]any{"tags": []any{"a", "b"}},
	})}

	match := []ToolCall{call("x", map[string]any{
		"filter": map[string]any{"tags": []any{"a", "b"}},
		"limit":  10,
	})}
	assert.True(t, Match(expected, match, false).Passed)

	mismatch := []ToolCall{call("x", map[string]any{
		"filter": map[string]any{"tags": []any{"b", "a"}},
	})}
	report := Match(expected, mismatch, false)
	assert.False(t, report.Passed)
	assert.Len(t, report.ArgumentMismatches, 1)
}

// Duplicate tool names make the verdict order-sensitive: the exact pass
// claims the first argument-compatible actual in input order, so a later
// exact expectation can lose its partner to an earlier loose one.
func TestMatchDuplicateNamesAreOrderSensitive(t *testing.T) {
	t.Parallel()

	looseFirst := []ToolCall{
		call("x", nil),
		call("x", map[string]any{"a": 1}),
	}
	actual := []ToolCall{
		call("x", map[string]any{"a": 1}),
		call("x", map[string]any{"a": 2}),
	}

	// The loose expectation consumes actual[0], leaving the exact
	// expectation paired by name only with actual[1].
	report := Match(looseFirst, actual, false)
	assert.False(t, report.Passed)
	assert.Empty(t, report.Missing)
	require.Len(t, report.ArgumentMismatches, 1)
	assert.Equal(t, map[string]any{"a": 2}, report.ArgumentMismatches[0].Actual)

	// Reversing the expectations lets both pair exactly.
	exactFirst := []ToolCall{looseFirst[1], looseFirst[0]}
	report = Match(exactFirst, actual, false)
	assert.True(t, report.Passed)
}

func TestMatchMissingAfterBothPasses(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("search", nil), call("fetch", nil)}
	actual := []ToolCall{call("search", nil)}

	report := Match(expected, actual, false)
	assert.False(t, report.Passed)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, "fetch", report.Missing[0].ToolName)
	assert.Empty(t, report.Unexpected)
}

func TestMatchIsPure(t *testing.T) {
	t.Parallel()

	expected := []ToolCall{call("x", map[string]any{"a": 1})}
	actual := []ToolCall{call("x", map[string]any{"a": 1}), call("y", nil)}

	first := Match(expected, actual, false)
	second := Match(expected, actual, false)
	assert.Equal(t, first, second)
	assert.Equal(t, []ToolCall{call("x", map[string]any{"a": 1})}, expected)
}
