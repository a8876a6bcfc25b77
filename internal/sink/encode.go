package sink

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

// CSV markers kept compatible with existing reports.
const (
	markerUnresolved = "Domain name unresolved"
	markerTimedOut   = "Page load timed out"
	markerNavigation = "Navigation error"
	markerProbeError = "Error during analysis"
	fieldSeparator   = ", "
)

// csvEncoder renders "url, field..." lines. Loaded rows carry one field per
// finding; every other status carries a single marker.
func csvEncoder(labels map[string]string) encoder {
	return func(o crawler.Outcome) ([]byte, error) {
		fields := []string{o.URL}
		switch o.Status {
		case crawler.StatusUnresolved:
			fields = append(fields, markerUnresolved)
		case crawler.StatusTimedOut:
			fields = append(fields, markerTimedOut)
		case crawler.StatusNavigationError:
			fields = append(fields, markerNavigation)
		default:
			for _, f := range o.Findings {
				fields = append(fields, findingField(f, labels))
			}
		}
		return []byte(strings.Join(fields, fieldSeparator)), nil
	}
}

func findingField(f crawler.Finding, labels map[string]string) string {
	switch f.State {
	case crawler.FindingPresent:
		if f.Version == "" {
			return "Unknown " + label(f.Library, labels) + " version"
		}
		return f.Version
	case crawler.FindingError:
		return markerProbeError
	default:
		return "No " + label(f.Library, labels)
	}
}

func label(library string, labels map[string]string) string {
	if l, ok := labels[library]; ok && l != "" {
		return l
	}
	return library
}

type jsonRecord struct {
	RunID      string            `json:"run_id"`
	URL        string            `json:"url"`
	Host       string            `json:"host"`
	Status     string            `json:"status"`
	Findings   []crawler.Finding `json:"findings"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
}

// Record converts an outcome into its JSON wire shape.
func Record(o crawler.Outcome) any {
	findings := o.Findings
	if findings == nil {
		findings = []crawler.Finding{}
	}
	return jsonRecord{
		RunID:      o.RunID,
		URL:        o.URL,
		Host:       o.Host,
		Status:     string(o.Status),
		Findings:   findings,
		Error:      o.Err,
		StartedAt:  o.Started,
		DurationMs: o.DurationMs(),
	}
}

func encodeJSONL(o crawler.Outcome) ([]byte, error) {
	return json.Marshal(Record(o))
}
