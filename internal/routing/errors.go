package routing

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrQuotaExceeded means the session request budget is exhausted. Fatal for
// further routing calls in the run, but not for the pipeline: cached results
// still flow through.
var ErrQuotaExceeded = eris.New("routing: session request budget exhausted")

// ErrUnavailable means the routing service failed for one facility after
// retries, or returned a degenerate polygon. The facility is excluded from
// coverage for the run; the pipeline continues.
var ErrUnavailable = eris.New("routing: service unavailable")

// Error carries the failure classification for a single isochrone request.
type Error struct {
	// Code is a short machine-readable cause ("quota", "degenerate",
	// "http_403", ...).
	Code    string
	Message string
	// Err is the sentinel the error unwraps to, ErrQuotaExceeded or
	// ErrUnavailable.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("routing: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
