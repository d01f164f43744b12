package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrorKind is the pipeline error taxonomy.
type ErrorKind string

const (
	// KindInput aborts the run: empty or malformed input.
	KindInput ErrorKind = "input_error"
	// KindMappingAmbiguity is recovered locally as unmapped + warning.
	KindMappingAmbiguity ErrorKind = "mapping_ambiguity"
	// KindCapabilityUnavailable is recovered via the fallback matcher tier.
	KindCapabilityUnavailable ErrorKind = "capability_unavailable"
	// KindValidationViolation marks findings surfaced as errors by callers.
	KindValidationViolation ErrorKind = "validation_violation"
	// KindOrchestrationExhausted forces ask_human.
	KindOrchestrationExhausted ErrorKind = "orchestration_exhausted"
	// KindPersistence is logged and swallowed.
	KindPersistence ErrorKind = "persistence_failure"
)

// Error tags an underlying error with its taxonomy kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind. A nil err is replaced by a generic message.
func NewError(kind ErrorKind, err error) *Error {
	if err == nil {
		err = eris.New(string(kind))
	}
	return &Error{Kind: kind, Err: err}
}

// InputErrorf builds a KindInput error.
func InputErrorf(format string, args ...any) *Error {
	return NewError(KindInput, eris.Errorf(format, args...))
}

// KindOf returns the taxonomy kind of err, or "" if untagged.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
