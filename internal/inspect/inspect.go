// Package inspect evaluates RUM library probes inside a loaded page.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/metrics"
)

// Probe describes one instrumentation library to look for.
type Probe struct {
	// Name is the stable identifier stored on findings.
	Name string `mapstructure:"name"`
	// Label is the human name used in CSV output ("No <Label>").
	Label string `mapstructure:"label"`
	// Global is the window property whose presence marks the library.
	Global string `mapstructure:"global"`
	// Accessor is a dotted path from window to the version value.
	Accessor string `mapstructure:"accessor"`
}

// DisplayName returns Label, falling back to Name.
func (p Probe) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Name
}

// DefaultProbes covers Boomerang and SpeedCurve LUX.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "boomerang", Label: "Boomerang", Global: "BOOMR", Accessor: "BOOMR.version"},
		{Name: "lux", Label: "LUX", Global: "LUX", Accessor: "LUX.version"},
	}
}

// Inspector runs every configured probe against a page.
type Inspector struct {
	probes  []Probe
	scripts []string
	logger  *zap.Logger
}

// New validates probes and precompiles their scripts.
func New(probes []Probe, logger *zap.Logger) (*Inspector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(probes) == 0 {
		probes = DefaultProbes()
	}
	probes = append([]Probe(nil), probes...)
	seen := make(map[string]struct{}, len(probes))
	scripts := make([]string, 0, len(probes))
	for i, p := range probes {
		if p.Name == "" || p.Global == "" {
			return nil, fmt.Errorf("probe %d: name and global are required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("probe %q defined twice", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Accessor == "" {
			probes[i].Accessor = p.Global + ".version"
		}
		scripts = append(scripts, probeScript(probes[i]))
	}
	return &Inspector{probes: probes, scripts: scripts, logger: logger}, nil
}

// Probes returns the configured probes in evaluation order.
func (i *Inspector) Probes() []Probe {
	return append([]Probe(nil), i.probes...)
}

type probeResult struct {
	Present bool   `json:"present"`
	Version string `json:"version"`
	Error   string `json:"error"`
}

// Inspect always returns one finding per probe, in probe order.
func (i *Inspector) Inspect(ctx context.Context, page crawler.Page) []crawler.Finding {
	findings := make([]crawler.Finding, 0, len(i.probes))
	for idx, probe := range i.probes {
		finding := i.runProbe(ctx, page, probe, i.scripts[idx])
		metrics.ObserveFinding(probe.Name, string(finding.State))
		findings = append(findings, finding)
	}
	return findings
}

func (i *Inspector) runProbe(ctx context.Context, page crawler.Page, probe Probe, script string) (finding crawler.Finding) {
	finding = crawler.Finding{Library: probe.Name}
	defer func() {
		if p := recover(); p != nil {
			finding.State = crawler.FindingError
			finding.Err = fmt.Sprintf("%v: panic: %v", crawler.ErrProbe, p)
		}
	}()

	var out probeResult
	if err := page.Eval(ctx, script, &out); err != nil {
		err = fmt.Errorf("%w: %s: %w", crawler.ErrProbe, probe.Name, err)
		finding.State = crawler.FindingError
		finding.Err = err.Error()
		i.logger.Debug("probe evaluation failed", zap.String("probe", probe.Name), zap.Error(err))
		return finding
	}
	switch {
	case out.Error != "":
		finding.State = crawler.FindingError
		finding.Err = fmt.Errorf("%w: %s: %s", crawler.ErrProbe, probe.Name, out.Error).Error()
	case out.Present:
		finding.State = crawler.FindingPresent
		finding.Version = out.Version
	default:
		finding.State = crawler.FindingAbsent
	}
	return finding
}

var errEmptyPath = errors.New("empty path")

// probeScript builds a self-contained expression that never throws: script
// errors are returned in the result object.
func probeScript(p Probe) string {
	global, err := jsPath(p.Global)
	if err != nil {
		global = "[]"
	}
	accessor, err := jsPath(p.Accessor)
	if err != nil {
		accessor = "[]"
	}
	var b strings.Builder
	b.WriteString("(function () {\n")
	b.WriteString("  var walk = function (path) {\n")
	b.WriteString("    var v = window;\n")
	b.WriteString("    for (var i = 0; i < path.length; i++) {\n")
	b.WriteString("      if (v === undefined || v === null) { return undefined; }\n")
	b.WriteString("      v = v[path[i]];\n")
	b.WriteString("    }\n")
	b.WriteString("    return v;\n")
	b.WriteString("  };\n")
	b.WriteString("  try {\n")
	b.WriteString("    var g = walk(" + global + ");\n")
	b.WriteString("    if (g === undefined || g === null) { return {present: false, version: \"\", error: \"\"}; }\n")
	b.WriteString("    var v = walk(" + accessor + ");\n")
	b.WriteString("    var s = v === undefined ? \"\" : JSON.stringify(v);\n")
	b.WriteString("    return {present: true, version: s === undefined ? \"\" : s, error: \"\"};\n")
	b.WriteString("  } catch (e) {\n")
	b.WriteString("    return {present: false, version: \"\", error: String(e && e.message ? e.message : e)};\n")
	b.WriteString("  }\n")
	b.WriteString("})()")
	return b.String()
}

// jsPath renders "A.b.c" as a JS array literal of quoted segments.
func jsPath(dotted string) (string, error) {
	dotted = strings.TrimPrefix(strings.TrimSpace(dotted), "window.")
	if dotted == "" {
		return "", errEmptyPath
	}
	parts := strings.Split(dotted, ".")
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return "", errEmptyPath
		}
		quoted = append(quoted, strconv.Quote(part))
	}
	return "[" + strings.Join(quoted, ", ") + "]", nil
}
