package crawler

import (
	"context"
	"time"
)

// Resolver performs a best-effort existence check for a hostname. It never
// returns an error; failures are reported on the Resolution.
type Resolver interface {
	Resolve(ctx context.Context, host string) Resolution
}

// Driver creates browser sessions. A driver owns any process shared between
// its sessions and must be closed after every session has been closed.
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is a browser slot owned by exactly one scheduler worker at a time.
type Session interface {
	// Load navigates to url and blocks until the page fired load and the
	// network went mostly idle, or ctx ends.
	Load(ctx context.Context, url string) (Page, error)
	// Reset returns the session to a clean state after a failed visit.
	Reset(ctx context.Context) error
	Close() error
}

// Page is a loaded document whose global scope can be evaluated.
type Page interface {
	// Eval runs a JavaScript expression and decodes its JSON result into out.
	Eval(ctx context.Context, expression string, out any) error
	Close() error
}

// Inspector extracts instrumentation findings from a loaded page.
type Inspector interface {
	Inspect(ctx context.Context, page Page) []Finding
}

// Sink is an append-only consumer of outcomes. Write must be safe for
// concurrent callers and must never interleave records.
type Sink interface {
	Write(ctx context.Context, outcome Outcome) error
	Close(ctx context.Context) error
}

// Submitter accepts targets for visiting and drains them on shutdown.
type Submitter interface {
	Submit(ctx context.Context, target Target) error
	DrainAndShutdown(ctx context.Context) (Summary, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
