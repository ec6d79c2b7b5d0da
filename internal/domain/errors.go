package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced job, recording, segment, translation, dub or task is absent
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller carries no identity
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the capability for an action
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidJobType is returned when a job is handed to the wrong processor or has an unknown type
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrExternalService is returned when a transcription or synthesis call fails
	ErrExternalService = errors.New("external service failure")

	// ErrTimedOut is returned when a job exceeds its deadline
	ErrTimedOut = errors.New("job timed out")

	// ErrValidation is returned for malformed input or artifacts violating an invariant
	ErrValidation = errors.New("validation error")

	// ErrConflict is returned when the target is not in a state that allows the change,
	// e.g. a job already claimed by another worker or a review task that is already decided
	ErrConflict = errors.New("conflict")

	// ErrVisibilityBlocked is returned when sign-off gating forbids elevating a recording's visibility
	ErrVisibilityBlocked = errors.New("visibility blocked by pending sacred sign-off")
)

// RetryableError wraps transient errors that may succeed on another attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked transient
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
