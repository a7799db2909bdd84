package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")

	ErrValidation = errors.New("upload validation failed")

	ErrStorage   = errors.New("store upload")
	ErrJobCreate = errors.New("create job record")
	ErrTrigger   = errors.New("trigger analysis")

	ErrJobNotFound       = errors.New("job not found")
	ErrResultNotFound    = errors.New("analysis result not found")
	ErrUnknownStatus     = errors.New("unknown job status")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrSessionActive     = errors.New("polling session already active")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

type ValidationReason string

const (
	ReasonInvalidType ValidationReason = "invalid_type"
	ReasonTooLarge    ValidationReason = "too_large"
	ReasonEmpty       ValidationReason = "empty"
)

type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func ValidationReasonOf(err error) (ValidationReason, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason, true
	}
	return "", false
}

type SubmissionStep string

const (
	StepStore   SubmissionStep = "store"
	StepCreate  SubmissionStep = "create"
	StepTrigger SubmissionStep = "trigger"
)

// SubmissionError reports which of the three submission steps failed. Earlier
// steps are not rolled back.
type SubmissionError struct {
	Step SubmissionStep
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind(), e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{e.kind(), e.Err}
}

func (e *SubmissionError) kind() error {
	switch e.Step {
	case StepStore:
		return ErrStorage
	case StepCreate:
		return ErrJobCreate
	default:
		return ErrTrigger
	}
}

type TransitionError struct {
	From JobState
	To   JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
