// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// VisitStatus is the terminal state recorded for a site.
type VisitStatus string

// Visit status values written to the result sink.
const (
	StatusLoaded          VisitStatus = "loaded"
	StatusTimedOut        VisitStatus = "timed_out"
	StatusNavigationError VisitStatus = "navigation_error"
	StatusUnresolved      VisitStatus = "unresolved"
)

// FindingState describes what a probe observed for one library.
type FindingState string

// Finding states produced by the inspector.
const (
	FindingPresent FindingState = "present"
	FindingAbsent  FindingState = "absent"
	FindingError   FindingState = "error"
)

// Target is a normalized site ready for resolution and navigation.
type Target struct {
	// URL always carries an explicit http:// or https:// scheme.
	URL string `json:"url"`
	// OriginalHost is the raw entry as read from the site source, after cleanup.
	OriginalHost string `json:"original_host"`
	// ResolveHost is the hostname handed to the resolver (leading "www." stripped).
	ResolveHost string `json:"resolve_host"`
}

// Resolution is the terminal result of a domain pre-check.
type Resolution struct {
	Host     string
	Resolved bool
	// Family is 4 or 6 for a resolved host, 0 otherwise.
	Family int
	Err    error
}

// VisitTask is a unit of work owned by the scheduler until it yields an Outcome.
type VisitTask struct {
	Target    Target
	Seq       int
	Submitted time.Time
}

// Finding records the presence and version of one instrumentation library.
type Finding struct {
	Library string       `json:"library"`
	State   FindingState `json:"state"`
	Version string       `json:"version,omitempty"`
	Err     string       `json:"error,omitempty"`
}

// Outcome is the immutable record written once per site.
type Outcome struct {
	RunID    string        `json:"run_id"`
	URL      string        `json:"url"`
	Host     string        `json:"host"`
	Status   VisitStatus   `json:"status"`
	Findings []Finding     `json:"findings,omitempty"`
	Err      string        `json:"error,omitempty"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"-"`
}

// DurationMs reports the visit duration in whole milliseconds.
func (o Outcome) DurationMs() int64 {
	return o.Duration.Milliseconds()
}

// Summary counts outcomes by status for a finished run.
type Summary struct {
	Submitted       int `json:"submitted"`
	Loaded          int `json:"loaded"`
	TimedOut        int `json:"timed_out"`
	NavigationError int `json:"navigation_error"`
	Unresolved      int `json:"unresolved"`
}

// Add counts one outcome with the given status.
func (s *Summary) Add(status VisitStatus) {
	switch status {
	case StatusLoaded:
		s.Loaded++
	case StatusTimedOut:
		s.TimedOut++
	case StatusNavigationError:
		s.NavigationError++
	case StatusUnresolved:
		s.Unresolved++
	}
}

// Total is the number of outcomes recorded.
func (s Summary) Total() int {
	return s.Loaded + s.TimedOut + s.NavigationError + s.Unresolved
}

// Merge folds other into s.
func (s *Summary) Merge(other Summary) {
	s.Submitted += other.Submitted
	s.Loaded += other.Loaded
	s.TimedOut += other.TimedOut
	s.NavigationError += other.NavigationError
	s.Unresolved += other.Unresolved
}
