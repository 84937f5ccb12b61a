package worker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTerminated is the cause recorded when a unit is shut down on request.
var ErrTerminated = errors.New("worker terminated")

// SpawnError reports that a unit failed to load its module or to become
// ready before the startup timeout. It is fatal for the generation attempt.
type SpawnError struct {
	Generation uint64
	Unit       int
	Err        error
	// StderrTail holds the last output of the worker process, if any.
	StderrTail string
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn worker gen=%d unit=%d: %v", e.Generation, e.Unit, e.Err)
	if e.StderrTail != "" {
		msg += "; stderr tail: " + e.StderrTail
	}
	return msg
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) StatusCode() int { return http.StatusServiceUnavailable }

// IsSpawnError reports whether err is or wraps a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// CommunicationError reports that the channel to a worker closed or broke,
// failing every request in flight on it.
type CommunicationError struct {
	Generation uint64
	Unit       int
	Err        error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("worker gen=%d unit=%d channel closed: %v", e.Generation, e.Unit, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

func (e *CommunicationError) StatusCode() int { return http.StatusBadGateway }

// IsCommunicationError reports whether err is or wraps a CommunicationError.
func IsCommunicationError(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}

// TimeoutError reports that one request outlived its deadline.
type TimeoutError struct {
	ID string
}

func (e *TimeoutError) Error() string { return "worker request timed out: " + e.ID }

func (e *TimeoutError) StatusCode() int { return http.StatusGatewayTimeout }

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// HandlerError is an error reply produced by the variant's handler.
type HandlerError struct {
	ID  string
	Msg string
}

func (e *HandlerError) Error() string { return "worker handler error: " + e.Msg }

func (e *HandlerError) StatusCode() int { return http.StatusInternalServerError }

// IsHandlerError reports whether err is or wraps a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
