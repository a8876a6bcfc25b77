package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/config"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/sites"
)

// pageDriver serves pages where the listed globals are present with the
// given JSON version.
type pageDriver struct {
	mu      sync.Mutex
	visited []string
	present map[string]string
}

func (d *pageDriver) NewSession(context.Context) (crawler.Session, error) {
	return &pageSession{driver: d}, nil
}

func (d *pageDriver) Close() error { return nil }

type pageSession struct{ driver *pageDriver }

func (s *pageSession) Load(_ context.Context, url string) (crawler.Page, error) {
	s.driver.mu.Lock()
	s.driver.visited = append(s.driver.visited, url)
	s.driver.mu.Unlock()
	return fakePage{present: s.driver.present}, nil
}

func (s *pageSession) Reset(context.Context) error { return nil }
func (s *pageSession) Close() error                { return nil }

type fakePage struct{ present map[string]string }

func (p fakePage) Eval(_ context.Context, expression string, out any) error {
	result := map[string]any{"present": false}
	for global, version := range p.present {
		if strings.Contains(expression, strconv.Quote(global)) {
			result = map[string]any{"present": true, "version": version}
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (fakePage) Close() error { return nil }

func useDriver(t *testing.T, d crawler.Driver) {
	t.Helper()
	prev := newDriver
	newDriver = func(config.Config, *zap.Logger) (crawler.Driver, error) { return d, nil }
	t.Cleanup(func() { newDriver = prev })
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestRun_LiteralURL(t *testing.T) {
	driver := &pageDriver{present: map[string]string{"BOOMR": `"1.737.0"`}}
	useDriver(t, driver)

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "resolver:\n  mode: off\nlogging:\n  level: error\n")
	out := filepath.Join(dir, "out.csv")

	err := execute(t, "run", "--config", cfgPath, "--output", out, "--sites", filepath.Join(dir, "missing.csv"), "http://a.example")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "http://a.example, \"1.737.0\", No LUX\n", string(data))
	require.Equal(t, []string{"http://a.example"}, driver.visited)
}

func TestRun_RangeToJSONL(t *testing.T) {
	driver := &pageDriver{}
	useDriver(t, driver)

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "resolver:\n  mode: off\nlogging:\n  level: error\n")
	list := writeFile(t, dir, "sites.csv", "zero.example\none.example\ntwo.example\nthree.example\n")
	out := filepath.Join(dir, "out.jsonl")
	runID := "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"

	err := execute(t, "run", "--config", cfgPath, "--sites", list, "--output", out,
		"--format", "jsonl", "--concurrency", "2", "--marker", "mode=on", "--run-id", runID, "1", "3")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		require.Equal(t, runID, rec["run_id"])
		require.Equal(t, "loaded", rec["status"])
		urls = append(urls, rec["url"].(string))
	}
	require.ElementsMatch(t, []string{"http://one.example?mode=on", "http://two.example?mode=on"}, urls)
}

func TestRun_NoArgsIsUsageError(t *testing.T) {
	useDriver(t, &pageDriver{})

	require.ErrorIs(t, execute(t, "run"), sites.ErrUsage)
	require.ErrorIs(t, execute(t), sites.ErrUsage)
}

func TestRun_InvalidRunID(t *testing.T) {
	useDriver(t, &pageDriver{})

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "resolver:\n  mode: off\nlogging:\n  level: error\n")
	err := execute(t, "run", "--config", cfgPath, "--output", filepath.Join(dir, "o.csv"), "--run-id", "nope", "http://a.example")
	require.ErrorContains(t, err, "not a UUID")
}

func TestRun_BadConfig(t *testing.T) {
	useDriver(t, &pageDriver{})

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "crawler:\n  driver: lynx\n")
	err := execute(t, "run", "--config", cfgPath, "http://a.example")
	require.ErrorContains(t, err, "crawler.driver")
}

type stubIDs struct {
	id  string
	err error
}

func (s stubIDs) NewID() (string, error) { return s.id, s.err }

func TestRunIDFor(t *testing.T) {
	t.Parallel()

	id, err := runIDFor(config.Config{}, stubIDs{id: "generated"})
	require.NoError(t, err)
	require.Equal(t, "generated", id)

	var cfg config.Config
	cfg.Crawler.RunID = " 0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b "
	id, err = runIDFor(cfg, stubIDs{err: errors.New("unused")})
	require.NoError(t, err)
	require.Equal(t, "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", id)

	_, err = runIDFor(config.Config{}, stubIDs{err: errors.New("entropy exhausted")})
	require.ErrorContains(t, err, "generate run id")
}
