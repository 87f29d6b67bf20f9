package detection

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDistribution matches any *InvalidDistributionError via errors.Is.
	ErrInvalidDistribution = errors.New("invalid probability distribution")
	// ErrUnreadableImage marks classification failures caused by the input image.
	ErrUnreadableImage = errors.New("unreadable image")
	// ErrBackendUnavailable marks classification failures caused by the backend.
	ErrBackendUnavailable = errors.New("classifier backend unavailable")
)

// InvalidDistributionError reports a distribution that breaks the shape or sum
// invariant. It always indicates an integration bug between classifier and engine.
type InvalidDistributionError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidDistributionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidDistribution, e.Reason)
}

// Is lets errors.Is match the ErrInvalidDistribution sentinel.
func (e *InvalidDistributionError) Is(target error) bool {
	return target == ErrInvalidDistribution
}

func invalidDistribution(format string, args ...any) error {
	return &InvalidDistributionError{Reason: fmt.Sprintf(format, args...)}
}

// ClassificationError is returned by Classifier implementations.
type ClassificationError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("classification failed (backend=%s): %v", e.Backend, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ClassificationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewClassificationError wraps err for the named backend. A nil err yields nil.
func NewClassificationError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassificationError{Backend: backend, Err: err}
}
