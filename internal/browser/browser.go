// Package browser holds the options shared by the browser drivers.
package browser

import (
	"context"
	"fmt"
	"strings"
)

// Granularity selects how visits are isolated from each other.
type Granularity string

const (
	// GranularityProcess gives every scheduler slot its own browser process.
	GranularityProcess Granularity = "process"
	// GranularityContext shares one browser process and gives every visit its
	// own incognito browser context.
	GranularityContext Granularity = "context"
)

// ParseGranularity accepts the config spelling of a granularity.
func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case "", GranularityProcess:
		return GranularityProcess, nil
	case GranularityContext:
		return GranularityContext, nil
	default:
		return "", fmt.Errorf("unknown browser granularity %q", raw)
	}
}

// Options configures a browser driver.
type Options struct {
	Granularity Granularity
	// Headless is false only for local debugging.
	Headless  bool
	UserAgent string
	// CaptureConsole forwards page console messages to the debug log.
	CaptureConsole bool
	// ExecPath overrides browser discovery.
	ExecPath string
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
}

// ForwardCancel calls cancel when parent is done. The returned func stops
// forwarding and must be called once the child work completes.
func ForwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
