package billing

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrGateway         = errors.New("billing gateway error")
	ErrStateConflict   = errors.New("subscription state conflict")
	ErrUnverifiedEvent = errors.New("unverified webhook event")

	ErrInvalidInterval = errors.New("invalid billing interval")
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// GatewayError wraps a failed call to the payment processor.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func (e *GatewayError) Unwrap() error { return e.Err }

// StateConflictError is returned for transitions the state machine forbids.
// The subscription is left untouched.
type StateConflictError struct {
	UserID uint
	From   string
	To     string
	Reason string
}

func (e *StateConflictError) Error() string {
	msg := fmt.Sprintf("subscription of user %d: %s -> %s not allowed", e.UserID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }
