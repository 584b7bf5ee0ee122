package feed

import (
	"errors"
	"fmt"
)

// Common errors surfaced by the engine and its collaborators.
var (
	// ErrNetwork indicates the source could not be reached.
	ErrNetwork = errors.New("network error")

	// ErrServer indicates the source responded with a server-side failure.
	ErrServer = errors.New("server error")

	// ErrTimeout is returned when a fetch does not settle within its limit.
	ErrTimeout = errors.New("fetch timeout")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport-level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents failures reported by the source itself.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassTimeout represents fetches that exceeded the time limit.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassValidation represents state invariant violations. These are
	// repaired in place, never surfaced to the UI.
	ErrorClassValidation ErrorClass = "validation"
)

// FetchError represents a failed page fetch with classification context.
type FetchError struct {
	Class   ErrorClass
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error: %s", e.Class, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its ErrorClass.
func Classify(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return ErrorClassTimeout
	case errors.Is(err, ErrServer):
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}

// Retryable determines if an error class should be retried.
func Retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork, ErrorClassServer, ErrorClassTimeout:
		return true
	default:
		// Validation errors are repaired, not retried.
		return false
	}
}
