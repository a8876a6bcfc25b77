package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

var labels = map[string]string{"boomerang": "Boomerang", "lux": "LUX"}

func loaded(url string, findings ...crawler.Finding) crawler.Outcome {
	return crawler.Outcome{RunID: "run", URL: url, Status: crawler.StatusLoaded, Findings: findings}
}

func TestCSV_Lines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := New(&buf, FormatCSV, labels)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, loaded("http://a.example",
		crawler.Finding{Library: "boomerang", State: crawler.FindingPresent, Version: `"1.737.0"`},
		crawler.Finding{Library: "lux", State: crawler.FindingAbsent},
	)))
	require.NoError(t, s.Write(ctx, loaded("http://b.example",
		crawler.Finding{Library: "boomerang", State: crawler.FindingError, Err: "boom"},
		crawler.Finding{Library: "lux", State: crawler.FindingPresent},
	)))
	require.NoError(t, s.Write(ctx, crawler.Outcome{URL: "http://c.example", Status: crawler.StatusTimedOut}))
	require.NoError(t, s.Write(ctx, crawler.Outcome{URL: "http://d.example", Status: crawler.StatusNavigationError}))
	require.NoError(t, s.Write(ctx, crawler.Outcome{URL: "http://e.example", Status: crawler.StatusUnresolved}))
	require.NoError(t, s.Close(ctx))

	require.Equal(t, strings.Join([]string{
		`http://a.example, "1.737.0", No LUX`,
		`http://b.example, Error during analysis, Unknown LUX version`,
		`http://c.example, Page load timed out`,
		`http://d.example, Navigation error`,
		`http://e.example, Domain name unresolved`,
	}, "\n")+"\n", buf.String())
}

func TestJSONL_Record(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := New(&buf, FormatJSONL, nil)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	outcome := crawler.Outcome{
		RunID:    "run-7",
		URL:      "http://a.example",
		Host:     "a.example",
		Status:   crawler.StatusTimedOut,
		Err:      crawler.ErrNavigationTimeout.Error(),
		Started:  started,
		Duration: 1500 * time.Millisecond,
	}
	require.NoError(t, s.Write(context.Background(), outcome))

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	require.Equal(t, "run-7", got["run_id"])
	require.Equal(t, "timed_out", got["status"])
	require.Equal(t, "page load timed out", got["error"])
	require.EqualValues(t, 1500, got["duration_ms"])
	require.Equal(t, "2024-05-01T10:00:00Z", got["started_at"])
	require.Equal(t, []any{}, got["findings"])
}

func TestLineSink_ConcurrentWritesNeverInterleave(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := New(&buf, FormatCSV, labels)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := fmt.Sprintf("http://site-%02d.example", i)
			require.NoError(t, s.Write(context.Background(), crawler.Outcome{URL: url, Status: crawler.StatusUnresolved}))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		require.Regexp(t, `^http://site-\d\d\.example, Domain name unresolved$`, line)
	}
}

func TestOpen_FileAndClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := Open(Options{Path: path, Format: "JSONL"})
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), loaded("http://a.example")))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	require.Error(t, s.Write(context.Background(), loaded("http://late.example")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"url":"http://a.example"`)

	_, err = Open(Options{Path: path, Format: "xml"})
	require.Error(t, err)
	_, err = Open(Options{Path: filepath.Join(t.TempDir(), "missing", "out.csv")})
	require.Error(t, err)
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, crawler.Outcome) error { return f.err }
func (f failingSink) Close(context.Context) error                  { return f.err }

func TestMulti(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	boom := errors.New("boom")
	m := Multi{New(&buf, FormatCSV, labels), failingSink{err: boom}}

	err := m.Write(context.Background(), crawler.Outcome{URL: "http://a.example", Status: crawler.StatusUnresolved})
	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), "http://a.example")
	require.ErrorIs(t, m.Close(context.Background()), boom)

	require.NoError(t, Multi{}.Write(context.Background(), crawler.Outcome{}))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)
	f, err = ParseFormat("json")
	require.NoError(t, err)
	require.Equal(t, FormatJSONL, f)
}
