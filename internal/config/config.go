// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/rum-crawler/internal/browser"
	"github.com/JakeFAU/rum-crawler/internal/inspect"
	"github.com/JakeFAU/rum-crawler/internal/logging"
	"github.com/JakeFAU/rum-crawler/internal/resolver"
	"github.com/JakeFAU/rum-crawler/internal/sink"
	"github.com/JakeFAU/rum-crawler/internal/sites"
)

// EnvPrefix prefixes every environment override, e.g. RUMCRAWL_CRAWLER_CONCURRENCY.
const EnvPrefix = "RUMCRAWL"

// Driver names accepted by crawler.driver.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig   `mapstructure:"crawler"`
	Resolver ResolverConfig  `mapstructure:"resolver"`
	Output   OutputConfig    `mapstructure:"output"`
	Probes   []inspect.Probe `mapstructure:"probes"`
	Postgres PostgresConfig  `mapstructure:"postgres"`
	PubSub   PubSubConfig    `mapstructure:"pubsub"`
	Archive  ArchiveConfig   `mapstructure:"archive"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Logging  logging.Config  `mapstructure:"logging"`
}

// CrawlerConfig governs the visit pool and the browser.
type CrawlerConfig struct {
	SitesFile      string        `mapstructure:"sites_file"`
	Concurrency    int           `mapstructure:"concurrency"`
	VisitTimeout   time.Duration `mapstructure:"visit_timeout"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	AbandonGrace   time.Duration `mapstructure:"abandon_grace"`
	Granularity    string        `mapstructure:"granularity"`
	Driver         string        `mapstructure:"driver"`
	AppendMarker   bool          `mapstructure:"append_marker"`
	Marker         string        `mapstructure:"marker"`
	TrailingSlash  bool          `mapstructure:"trailing_slash"`
	UserAgent      string        `mapstructure:"user_agent"`
	Headless       bool          `mapstructure:"headless"`
	CaptureConsole bool          `mapstructure:"capture_console"`
	ExecPath       string        `mapstructure:"exec_path"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
	RunID          string        `mapstructure:"run_id"`
}

// ResolverConfig controls the domain pre-check.
type ResolverConfig struct {
	Mode        string        `mapstructure:"mode"`
	Server      string        `mapstructure:"server"`
	Timeout     time.Duration `mapstructure:"timeout"`
	QPS         float64       `mapstructure:"qps"`
	Burst       int           `mapstructure:"burst"`
	Concurrency int           `mapstructure:"concurrency"`
}

// OutputConfig selects the result file.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// PostgresConfig enables the Postgres sink when DSN is set.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	CreateTable bool   `mapstructure:"create_table"`
}

// PubSubConfig enables the Pub/Sub sink when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig uploads the result file to GCS when GCSBucket is set.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig exposes Prometheus metrics during a run.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// New returns a Viper instance with defaults and environment binding
// applied, ready for flag binding before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom reads the optional config file into v and decodes it.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Probes) == 0 {
		cfg.Probes = inspect.DefaultProbes()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.sites_file", sites.DefaultFile)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.visit_timeout", 60*time.Second)
	v.SetDefault("crawler.queue_depth", 0)
	v.SetDefault("crawler.abandon_grace", 5*time.Second)
	v.SetDefault("crawler.granularity", string(browser.GranularityProcess))
	v.SetDefault("crawler.driver", DriverChromedp)
	v.SetDefault("crawler.append_marker", false)
	v.SetDefault("crawler.marker", "mode=on")
	v.SetDefault("crawler.trailing_slash", false)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.capture_console", false)
	v.SetDefault("crawler.exec_path", "")
	v.SetDefault("crawler.no_sandbox", false)
	v.SetDefault("crawler.run_id", "")
	v.SetDefault("resolver.mode", string(resolver.ModeSystem))
	v.SetDefault("resolver.server", "8.8.8.8:53")
	v.SetDefault("resolver.timeout", 2*time.Second)
	v.SetDefault("resolver.qps", 0)
	v.SetDefault("resolver.burst", 1)
	v.SetDefault("resolver.concurrency", 8)
	v.SetDefault("output.path", "-")
	v.SetDefault("output.format", string(sink.FormatCSV))
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "rum_outcomes")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.create_table", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "rum-crawler")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("crawler.concurrency must be > 0"))
	}
	if c.Crawler.VisitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("crawler.visit_timeout must be > 0"))
	}
	if c.Crawler.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("crawler.queue_depth must be >= 0"))
	}
	if _, err := browser.ParseGranularity(c.Crawler.Granularity); err != nil {
		errs = append(errs, fmt.Errorf("crawler.granularity: %w", err))
	}
	switch strings.ToLower(c.Crawler.Driver) {
	case DriverChromedp, DriverRod:
	default:
		errs = append(errs, fmt.Errorf("crawler.driver must be %q or %q, got %q", DriverChromedp, DriverRod, c.Crawler.Driver))
	}
	switch resolver.Mode(strings.ToLower(c.Resolver.Mode)) {
	case resolver.ModeSystem, resolver.ModeUDP, resolver.ModeOff:
	default:
		errs = append(errs, fmt.Errorf("resolver.mode %q is not one of system, udp, off", c.Resolver.Mode))
	}
	if c.Resolver.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("resolver.timeout must be > 0"))
	}
	if c.Resolver.QPS < 0 {
		errs = append(errs, fmt.Errorf("resolver.qps must be >= 0"))
	}
	if _, err := sink.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, fmt.Errorf("output.format: %w", err))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set"))
	}
	if c.Archive.GCSBucket != "" && c.Output.Path == "-" {
		errs = append(errs, fmt.Errorf("archive.gcs_bucket requires output.path to be a file"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr must be set when metrics are enabled"))
	}
	if _, err := inspect.New(c.Probes, nil); err != nil {
		errs = append(errs, fmt.Errorf("probes: %w", err))
	}
	return errors.Join(errs...)
}

// BrowserOptions maps the crawler section onto driver options.
func (c Config) BrowserOptions() browser.Options {
	g, _ := browser.ParseGranularity(c.Crawler.Granularity)
	return browser.Options{
		Granularity:    g,
		Headless:       c.Crawler.Headless,
		UserAgent:      c.Crawler.UserAgent,
		CaptureConsole: c.Crawler.CaptureConsole,
		ExecPath:       c.Crawler.ExecPath,
		NoSandbox:      c.Crawler.NoSandbox,
	}
}

// ResolverOptions maps the resolver section onto resolver.Config.
func (c Config) ResolverOptions() resolver.Config {
	return resolver.Config{
		Mode:    resolver.Mode(strings.ToLower(c.Resolver.Mode)),
		Server:  c.Resolver.Server,
		Timeout: c.Resolver.Timeout,
		QPS:     c.Resolver.QPS,
		Burst:   c.Resolver.Burst,
	}
}
