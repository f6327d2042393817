package agent

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by the orchestrator, the agents and the model backend.
var (
	ErrNoEligibleAgent  = errors.New("no eligible agent")
	ErrPlanCycle        = errors.New("plan dependency graph contains a cycle")
	ErrTimeout          = errors.New("step timed out")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelTimeout     = errors.New("model timed out")
	ErrValidation       = errors.New("validation failed")
	ErrInternal         = errors.New("internal error")
	ErrCancelled        = errors.New("cancelled")
)

// ErrorKind is the closed set of failure categories carried in step results.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindNoEligibleAgent  ErrorKind = "no_eligible_agent"
	KindPlanCycle        ErrorKind = "plan_cycle"
	KindTimeout          ErrorKind = "timeout"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindModelTimeout     ErrorKind = "model_timeout"
	KindValidation       ErrorKind = "validation_error"
	KindInternal         ErrorKind = "internal_error"
	KindCancelled        ErrorKind = "cancelled"
)

// Transient reports whether a failure of this kind is worth retrying.
func (k ErrorKind) Transient() bool {
	return k == KindModelUnavailable || k == KindModelTimeout
}

// KindOf maps an error onto the closed kind set. Errors that wrap none of
// the known sentinels are internal errors. Context errors are reported as
// timeouts or cancellations.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoEligibleAgent):
		return KindNoEligibleAgent
	case errors.Is(err, ErrPlanCycle):
		return KindPlanCycle
	case errors.Is(err, ErrModelTimeout):
		return KindModelTimeout
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// StepError is the failure detail attached to an unsuccessful Result.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *StepError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewStepError classifies err into a StepError.
func NewStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	return &StepError{Kind: KindOf(err), Message: err.Error()}
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
