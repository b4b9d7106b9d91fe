package evals

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// RunSummary is a pure projection of a batch's results.
type RunSummary struct {
	Total    int
	Passed   int
	Failed   int
	Duration time.Duration
	Failures []TestResult
}

// AllPassed reports whether the batch succeeded.
func (s RunSummary) AllPassed() bool { return s.Failed == 0 }

// Summarize folds a batch into pass/fail counts and the failing results.
func Summarize(run *TestRunResults) RunSummary {
	summary := RunSummary{Duration: run.Duration}
	for _, result := range run.Results {
		summary.Total++
		if result.Passed {
			summary.Passed++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, result)
	}
	return summary
}

// WriteReport renders a human-readable run report.
func WriteReport(w io.Writer, run *TestRunResults) error {
	summary := Summarize(run)
	for _, result := range run.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		if _, err := fmt.Fprintf(w, "%s  %s (%s)  %s\n", status, result.TestID, result.Title, result.Duration.Round(time.Millisecond)); err != nil {
			return err
		}
		if result.Passed {
			continue
		}
		if result.Error != "" {
			if _, err := fmt.Fprintf(w, "      error: %s\n", result.Error); err != nil {
				return err
			}
		}
		if len(result.MissingTools) > 0 {
			if _, err := fmt.Fprintf(w, "      missing tools: %s\n", strings.Join(result.MissingTools, ", ")); err != nil {
				return err
			}
		}
		if len(result.UnexpectedTools) > 0 {
			if _, err := fmt.Fprintf(w, "      unexpected tools: %s\n", strings.Join(result.UnexpectedTools, ", ")); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n%d passed, %d failed, %d total in %s\n",
		summary.Passed, summary.Failed, summary.Total, summary.Duration.Round(time.Millisecond))
	return err
}
