package core

import "fmt"

// ErrorKind tags the failure taxonomy of a run.
type ErrorKind string

const (
	// KindPolicyViolation means the query's source constraints cannot be
	// satisfied. Always fatal.
	KindPolicyViolation ErrorKind = "policy_violation"
	// KindSourceUnavailable means a single source failed to fetch. Recorded
	// as a defect and skipped unless the source was required.
	KindSourceUnavailable ErrorKind = "source_unavailable"
	// KindGenerationTimeout means a generative call exceeded its deadline.
	KindGenerationTimeout ErrorKind = "generation_timeout"
	// KindGenerationFailure means a generative call returned an error or
	// unusable output.
	KindGenerationFailure ErrorKind = "generation_failure"
	// KindEmptyResult means assembly found zero usable sources. Fatal.
	KindEmptyResult ErrorKind = "empty_result"
)

// RunError is a structured pipeline error carrying its taxonomy kind.
// Callers match it with errors.As and branch on Kind.
type RunError struct {
	Kind      ErrorKind
	SectionID string
	URL       string
	Err       error
}

func (e *RunError) Error() string {
	msg := string(e.Kind)
	if e.SectionID != "" {
		msg += " section=" + e.SectionID
	}
	if e.URL != "" {
		msg += " url=" + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// Fatal reports whether this kind terminates the run.
func (e *RunError) Fatal() bool {
	return e.Kind == KindPolicyViolation || e.Kind == KindEmptyResult
}

func policyViolation(format string, args ...interface{}) *RunError {
	return &RunError{Kind: KindPolicyViolation, Err: fmt.Errorf(format, args...)}
}

func emptyResult(format string, args ...interface{}) *RunError {
	return &RunError{Kind: KindEmptyResult, Err: fmt.Errorf(format, args...)}
}
