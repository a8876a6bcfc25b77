package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

// fakePage answers probe scripts by matching the global's quoted name.
type fakePage struct {
	results map[string]probeResult
	errs    map[string]error
	panics  map[string]bool
	calls   []string
}

func (p *fakePage) Eval(_ context.Context, expression string, out any) error {
	for global, res := range p.results {
		if strings.Contains(expression, `var g = walk(["`+global+`"])`) {
			p.calls = append(p.calls, global)
			data, _ := json.Marshal(res)
			return json.Unmarshal(data, out)
		}
	}
	for global, err := range p.errs {
		if strings.Contains(expression, `var g = walk(["`+global+`"])`) {
			p.calls = append(p.calls, global)
			return err
		}
	}
	for global := range p.panics {
		if strings.Contains(expression, `var g = walk(["`+global+`"])`) {
			panic("evaluation exploded")
		}
	}
	return json.Unmarshal([]byte(`{"present":false}`), out)
}

func (p *fakePage) Close() error { return nil }

func TestInspect_PresentAndAbsent(t *testing.T) {
	t.Parallel()

	insp, err := New(nil, zap.NewNop())
	require.NoError(t, err)

	page := &fakePage{results: map[string]probeResult{
		"BOOMR": {Present: true, Version: `"1.737.0"`},
	}}
	findings := insp.Inspect(context.Background(), page)
	require.Len(t, findings, 2)

	require.Equal(t, "boomerang", findings[0].Library)
	require.Equal(t, crawler.FindingPresent, findings[0].State)
	require.Equal(t, `"1.737.0"`, findings[0].Version)

	require.Equal(t, "lux", findings[1].Library)
	require.Equal(t, crawler.FindingAbsent, findings[1].State)
	require.Empty(t, findings[1].Version)
}

func TestInspect_OneProbeFailureIsIsolated(t *testing.T) {
	t.Parallel()

	insp, err := New(nil, nil)
	require.NoError(t, err)

	page := &fakePage{
		results: map[string]probeResult{"LUX": {Present: true, Version: `"314"`}},
		errs:    map[string]error{"BOOMR": errors.New("execution context was destroyed")},
	}
	findings := insp.Inspect(context.Background(), page)
	require.Len(t, findings, 2)
	require.Equal(t, crawler.FindingError, findings[0].State)
	require.Contains(t, findings[0].Err, "execution context was destroyed")
	require.Contains(t, findings[0].Err, crawler.ErrProbe.Error())
	require.Equal(t, crawler.FindingPresent, findings[1].State)
	require.Equal(t, `"314"`, findings[1].Version)
}

func TestInspect_ScriptErrorAndPanic(t *testing.T) {
	t.Parallel()

	insp, err := New(nil, nil)
	require.NoError(t, err)

	page := &fakePage{
		results: map[string]probeResult{"BOOMR": {Error: "getter threw"}},
		panics:  map[string]bool{"LUX": true},
	}
	findings := insp.Inspect(context.Background(), page)
	require.Equal(t, crawler.FindingError, findings[0].State)
	require.Contains(t, findings[0].Err, "getter threw")
	require.Equal(t, crawler.FindingError, findings[1].State)
	require.Contains(t, findings[1].Err, "panic")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New([]Probe{{Name: "x"}}, nil)
	require.Error(t, err)

	_, err = New([]Probe{{Name: "x", Global: "X"}, {Name: "x", Global: "Y"}}, nil)
	require.Error(t, err)

	insp, err := New([]Probe{{Name: "mpulse", Global: "BOOMR_mq"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "BOOMR_mq.version", insp.Probes()[0].Accessor)
	require.Equal(t, "mpulse", insp.Probes()[0].DisplayName())
}

func TestProbeScript_QuotesPath(t *testing.T) {
	t.Parallel()

	script := probeScript(Probe{Name: "b", Global: "BOOMR", Accessor: "window.BOOMR.plugins.RT.version"})
	require.Contains(t, script, `walk(["BOOMR"])`)
	require.Contains(t, script, `walk(["BOOMR", "plugins", "RT", "version"])`)
	require.True(t, strings.HasPrefix(script, "(function () {"))
	require.True(t, strings.HasSuffix(script, "})()"))

	_, err := jsPath("a..b")
	require.Error(t, err)
}
