package api

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/pkg/auth"
)

// State is a step of a signed operation.
type State int

const (
	StateUnstarted State = iota
	StateFetchingSalt
	StateBuilding
	StateSigning
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "UNSTARTED"
	case StateFetchingSalt:
		return "FETCHING_SALT"
	case StateBuilding:
		return "BUILDING"
	case StateSigning:
		return "SIGNING"
	case StateSending:
		return "SENDING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OperationError is returned by every failed operation.
//
// Its message is a generic category safe to show to an end user; the
// typed cause is available through errors.Is and errors.As.
type OperationError struct {
	Op    string // login, query or session
	State State  // the state the operation failed in
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message())
}

func (e *OperationError) Unwrap() error { return e.Err }

// Message returns the user facing description of the failure.
func (e *OperationError) Message() string {
	var appErr *auth.ApplicationError
	switch {
	case errors.Is(e.Err, auth.ErrNotAuthenticated):
		return "not logged in or session expired"
	case e.State == StateFetchingSalt:
		return "unable to obtain salt"
	case e.State == StateBuilding:
		return "invalid request"
	case e.State == StateSigning:
		return "signature generation failed"
	case errors.As(e.Err, &appErr):
		if appErr.Message != "" {
			return appErr.Message
		}
		return "request rejected by server"
	case errors.Is(e.Err, auth.ErrMarshal):
		return "invalid server response"
	default:
		return "request failed"
	}
}

// operation tracks one run of the state machine.
type operation struct {
	name    string
	state   State
	logger  zerolog.Logger
	observe func(op string, s State)
}

func (o *operation) enter(s State) {
	o.logger.Debug().Str("from", o.state.String()).Str("to", s.String()).Msg("operation state")
	o.state = s
	if o.observe != nil {
		o.observe(o.name, s)
	}
}

// fail moves the operation to FAILED and returns the error to hand to the
// caller. The full cause is logged here, the returned error only shows a
// category.
func (o *operation) fail(err error) error {
	opErr := &OperationError{Op: o.name, State: o.state, Err: err}
	if o.state == StateBuilding {
		o.logger.Error().Err(err).Str("state", o.state.String()).Msg("signable request rejected by builder")
	} else {
		o.logger.Warn().Err(err).Str("state", o.state.String()).Msg("operation failed")
	}
	o.enter(StateFailed)
	return opErr
}

func (o *operation) succeed() {
	o.enter(StateSucceeded)
}
