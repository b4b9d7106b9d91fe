package evals

import (
	"encoding/json"
	"reflect"
)

// ArgumentMismatch records an expected call that matched an actual call by
// name only, with the argument payloads that disagreed.
type ArgumentMismatch struct {
	ToolName string         `json:"toolName"`
	Expected map[string]any `json:"expected"`
	Actual   map[string]any `json:"actual"`
}

// MatchReport is the verdict of one Match invocation.
type MatchReport struct {
	Missing            []ToolCall         `json:"missing,omitempty"`
	Unexpected         []ToolCall         `json:"unexpected,omitempty"`
	ArgumentMismatches []ArgumentMismatch `json:"argumentMismatches,omitempty"`
	Passed             bool               `json:"passed"`
}

// Match grades the tool calls an agent actually issued against the expected
// set. It is pure and strictly order-sensitive: expected calls are considered
// in input order, and ties between actual calls sharing a tool name are
// broken by first unmatched index.
//
// In negative mode the verdict passes only when actual is empty; every actual
// call is reported unexpected.
//
// Positive mode runs two passes. The exact pass pairs each expected call with
// the first unmatched actual call of the same name whose arguments satisfy
// subset-equality: every key in the expected arguments deep-equals the actual
// value, extra actual keys are allowed, and an expectation with no arguments
// matches any call of that name. The name-only pass then pairs leftover
// expectations by name alone, recording an ArgumentMismatch when the
// expectation carried arguments. Missing expectations and argument
// mismatches fail the verdict; unexpected extra calls alone do not.
func Match(expected, actual []ToolCall, negative bool) MatchReport {
	if negative {
		report := MatchReport{Passed: len(actual) == 0}
		report.Unexpected = append(report.Unexpected, actual...)
		return report
	}

	if len(actual) == 0 {
		return MatchReport{
			Missing: append([]ToolCall(nil), expected...),
			Passed:  len(expected) == 0,
		}
	}

	usedActual := make([]bool, len(actual))
	satisfied := make([]bool, len(expected))

	// Exact pass: name plus argument subset-equality.
	for i, exp := range expected {
		for j, act := range actual {
			if usedActual[j] || act.ToolName != exp.ToolName {
				continue
			}
			if argumentsSubset(exp.Arguments, act.Arguments) {
				usedActual[j] = true
				satisfied[i] = true
				break
			}
		}
	}

	var report MatchReport

	// Name-only pass: a name match with wrong arguments is a mismatch, not a
	// missing call.
	for i, exp := range expected {
		if satisfied[i] {
			continue
		}
		for j, act := range actual {
			if usedActual[j] || act.ToolName != exp.ToolName {
				continue
			}
			usedActual[j] = true
			satisfied[i] = true
			if len(exp.Arguments) > 0 {
				report.ArgumentMismatches = append(report.ArgumentMismatches, ArgumentMismatch{
					ToolName: exp.ToolName,
					Expected: exp.Arguments,
					Actual:   act.Arguments,
				})
			}
			break
		}
	}

	for i, exp := range expected {
		if !satisfied[i] {
			report.Missing = append(report.Missing, exp)
		}
	}
	for j, act := range actual {
		if !usedActual[j] {
			report.Unexpected = append(report.Unexpected, act)
		}
	}

	report.Passed = len(report.Missing) == 0 && len(report.ArgumentMismatches) == 0
	return report
}

// argumentsSubset reports whether every expected key deep-equals the actual
// value for that key. Values round-trip through JSON first so numeric types
// from decoded specs and live agents compare equal.
func argumentsSubset(expected, actual map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(canonical(want), canonical(got)) {
			return false
		}
	}
	return true
}

func canonical(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
