package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrInvalidRequest    = errors.New("invalid signable request")
	ErrEngineUnavailable = errors.New("signing engine unavailable")
	ErrMarshal           = errors.New("signing bridge marshal error")
	ErrSigningFailure    = errors.New("signing failed")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrApplication       = errors.New("application error")
)

// NetworkError is returned when an endpoint could not be reached or
// answered with a non-success HTTP status.
type NetworkError struct {
	Method     string
	Path       string
	StatusCode int // zero if no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected response status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetwork}
	}
	return []error{ErrNetwork, e.Err}
}

// SigningError carries the reason reported by the signing engine itself.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%s: engine reported %q", ErrSigningFailure, e.Reason)
}

func (e *SigningError) Unwrap() error { return ErrSigningFailure }

// ApplicationError is returned when the server answers with a status
// other than "ok" in its response envelope.
type ApplicationError struct {
	Status  string
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %q", ErrApplication, e.Status)
	}
	return fmt.Sprintf("%s: status %q: %s", ErrApplication, e.Status, e.Message)
}

func (e *ApplicationError) Unwrap() error { return ErrApplication }
