package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rum-crawler/internal/browser"
	"github.com/JakeFAU/rum-crawler/internal/resolver"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "rum_migration_domains.csv", cfg.Crawler.SitesFile)
	require.Equal(t, 5, cfg.Crawler.Concurrency)
	require.Equal(t, 60*time.Second, cfg.Crawler.VisitTimeout)
	require.Equal(t, DriverChromedp, cfg.Crawler.Driver)
	require.True(t, cfg.Crawler.Headless)
	require.Equal(t, "system", cfg.Resolver.Mode)
	require.Equal(t, 2*time.Second, cfg.Resolver.Timeout)
	require.Equal(t, "-", cfg.Output.Path)
	require.Equal(t, "csv", cfg.Output.Format)
	require.Len(t, cfg.Probes, 2)
	require.Equal(t, "BOOMR", cfg.Probes[0].Global)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  concurrency: 12
  visit_timeout: 30s
  granularity: context
  driver: rod
  append_marker: true
  marker: debug=1
  headless: false
resolver:
  mode: udp
  server: 1.1.1.1
  timeout: 500ms
  qps: 20
  burst: 5
output:
  path: out.jsonl
  format: jsonl
probes:
  - name: boomerang
    label: Boomerang
    global: BOOMR
  - name: newrelic
    global: NREUM
    accessor: NREUM.info.agent
archive:
  gcs_bucket: results
metrics:
  enabled: true
  addr: 127.0.0.1:9100
logging:
  development: false
  file: crawl.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 12, cfg.Crawler.Concurrency)
	require.Equal(t, 30*time.Second, cfg.Crawler.VisitTimeout)
	require.Equal(t, DriverRod, cfg.Crawler.Driver)
	require.True(t, cfg.Crawler.AppendMarker)
	require.Equal(t, "debug=1", cfg.Crawler.Marker)
	require.Len(t, cfg.Probes, 2)
	require.Equal(t, "NREUM.info.agent", cfg.Probes[1].Accessor)
	require.Equal(t, "results", cfg.Archive.GCSBucket)
	require.Equal(t, "crawl.log", cfg.Logging.File)
	require.False(t, cfg.Logging.Development)

	opts := cfg.BrowserOptions()
	require.Equal(t, browser.GranularityContext, opts.Granularity)
	require.False(t, opts.Headless)

	res := cfg.ResolverOptions()
	require.Equal(t, resolver.ModeUDP, res.Mode)
	require.Equal(t, 500*time.Millisecond, res.Timeout)
	require.InDelta(t, 20.0, res.QPS, 0.001)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RUMCRAWL_CRAWLER_CONCURRENCY", "3")
	t.Setenv("RUMCRAWL_OUTPUT_FORMAT", "jsonl")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Crawler.Concurrency)
	require.Equal(t, "jsonl", cfg.Output.Format)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "timeout", mutate: func(c *Config) { c.Crawler.VisitTimeout = 0 }, want: "crawler.visit_timeout"},
		{name: "granularity", mutate: func(c *Config) { c.Crawler.Granularity = "tab" }, want: "crawler.granularity"},
		{name: "driver", mutate: func(c *Config) { c.Crawler.Driver = "puppeteer" }, want: "crawler.driver"},
		{name: "resolver mode", mutate: func(c *Config) { c.Resolver.Mode = "doh" }, want: "resolver.mode"},
		{name: "format", mutate: func(c *Config) { c.Output.Format = "xml" }, want: "output.format"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub.Topic = "t" }, want: "pubsub.project_id"},
		{name: "archive stdout", mutate: func(c *Config) { c.Archive.GCSBucket = "b" }, want: "archive.gcs_bucket"},
		{name: "probe", mutate: func(c *Config) { c.Probes = append(c.Probes, c.Probes[0]) }, want: "probes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Probes = append(cfg.Probes[:0:0], base.Probes...)
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
