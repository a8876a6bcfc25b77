package crawler

import (
	"context"
	"errors"
)

// Per-site error kinds. Everything except ErrSinkWrite is converted into a
// recorded outcome at the layer that produced it.
var (
	ErrDomainUnresolved  = errors.New("domain name unresolved")
	ErrResolveTimeout    = errors.New("domain resolution timed out")
	ErrNavigationTimeout = errors.New("page load timed out")
	ErrNavigation        = errors.New("navigation failed")
	ErrProbe             = errors.New("instrumentation probe failed")
	ErrSinkWrite         = errors.New("result sink write failed")
)

// ClassifyLoadError maps a browser load error to the status recorded for the visit.
func ClassifyLoadError(err error) VisitStatus {
	switch {
	case err == nil:
		return StatusLoaded
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	default:
		return StatusNavigationError
	}
}
