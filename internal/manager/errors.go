package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// unavailableError signals that no generation can take the request, so the
// HTTP layer returns 503.
type unavailableError struct{ reason string }

func (e unavailableError) Error() string { return "service unavailable: " + e.reason }

func (e unavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrServiceUnavailable constructs an unavailableError.
func ErrServiceUnavailable(reason string) error { return unavailableError{reason: reason} }

// IsServiceUnavailable reports whether err indicates that nothing is serving.
func IsServiceUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}

// ReloadBuildError reports a reload whose new generation failed to build.
// The previously serving generation keeps serving.
type ReloadBuildError struct {
	JobID      uint64
	Generation uint64
	Reason     string
	Err        error
}

func (e *ReloadBuildError) Error() string {
	return fmt.Sprintf("reload job=%d gen=%d (%s) failed: %v", e.JobID, e.Generation, e.Reason, e.Err)
}

func (e *ReloadBuildError) Unwrap() error { return e.Err }

// IsReloadBuildError reports whether err is or wraps a ReloadBuildError.
func IsReloadBuildError(err error) bool {
	var re *ReloadBuildError
	return errors.As(err, &re)
}

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("manager closed")
