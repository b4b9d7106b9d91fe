package evals

import (
	"fmt"
	"strings"
)

// ModelErrorKind classifies an agent failure into an actionable category.
type ModelErrorKind string

const (
	ModelErrorAuth     ModelErrorKind = "auth"
	ModelErrorQuota    ModelErrorKind = "quota"
	ModelErrorNotFound ModelErrorKind = "not_found"
	ModelErrorUnknown  ModelErrorKind = "unknown"
)

// ModelError wraps an agent failure with its classification.
type ModelError struct {
	Kind ModelErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	switch e.Kind {
	case ModelErrorAuth:
		return fmt.Sprintf("evals: model authentication failed, check the API key: %v", e.Err)
	case ModelErrorQuota:
		return fmt.Sprintf("evals: model quota or rate limit exceeded: %v", e.Err)
	case ModelErrorNotFound:
		return fmt.Sprintf("evals: model not found, check the model id: %v", e.Err)
	default:
		return fmt.Sprintf("evals: model error: %v", e.Err)
	}
}

func (e *ModelError) Unwrap() error { return e.Err }

// ClassifyModelError inspects a failure's text for provider-agnostic auth,
// quota, and not-found signatures. Providers disagree on error types, so the
// heuristics run on the message alone.
func ClassifyModelError(err error) *ModelError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "invalid api key", "invalid x-api-key", "authentication", "401", "403"):
		return &ModelError{Kind: ModelErrorAuth, Err: err}
	case containsAny(msg, "quota", "rate limit", "rate_limit", "too many requests", "429", "insufficient credit", "billing"):
		return &ModelError{Kind: ModelErrorQuota, Err: err}
	case containsAny(msg, "model not found", "unknown model", "no such model", "does not exist", "404"):
		return &ModelError{Kind: ModelErrorNotFound, Err: err}
	default:
		return &ModelError{Kind: ModelErrorUnknown, Err: err}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
