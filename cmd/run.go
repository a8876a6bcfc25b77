package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/config"
	"github.com/JakeFAU/rum-crawler/internal/logging"
	"github.com/JakeFAU/rum-crawler/internal/sites"
)

// flagKeys maps run flags onto config keys.
var flagKeys = map[string]string{
	"sites":       "crawler.sites_file",
	"output":      "output.path",
	"format":      "output.format",
	"concurrency": "crawler.concurrency",
	"timeout":     "crawler.visit_timeout",
	"granularity": "crawler.granularity",
	"driver":      "crawler.driver",
	"marker":      "crawler.marker",
	"run-id":      "crawler.run_id",
}

func newRunCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <url> | run <start> [end]",
		Short: "Crawl one URL or a range of the site list",
		Long: `Crawls a single literal URL, or the sites at line index start up to
but excluding end from the site list. When end is omitted or not past
start, start is a count of sites taken from the top of the list.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, v, *cfgFile, args)
		},
	}

	flags := cmd.Flags()
	flags.String("sites", "", "line-delimited site list (default rum_migration_domains.csv)")
	flags.StringP("output", "o", "", `result file, "-" for stdout`)
	flags.String("format", "", "output format: csv or jsonl")
	flags.IntP("concurrency", "c", 0, "concurrent browser visits")
	flags.Duration("timeout", 0, "per-visit timeout, e.g. 60s")
	flags.String("granularity", "", "session isolation: process or context")
	flags.String("driver", "", "browser driver: chromedp or rod")
	flags.String("marker", "", "append this query marker to every URL, e.g. mode=on")
	flags.String("run-id", "", "UUID stamped on every outcome (generated when empty)")
	bindFlags(flags, v)
	return cmd
}

func bindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	for name, key := range flagKeys {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(name)))
	}
}

func runCommand(cmd *cobra.Command, v *viper.Viper, cfgFile string, args []string) error {
	sel, err := sites.ParseSelection(args)
	if err != nil {
		_ = cmd.Usage()
		return err
	}
	if cmd.Flags().Changed("marker") {
		v.Set("crawler.append_marker", true)
	}

	cfg, err := config.LoadFrom(v, cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries, err := sel.Entries(cfg.Crawler.SitesFile)
	if err != nil {
		return err
	}
	logger.Info("starting crawl",
		zap.Stringer("selection", sel),
		zap.Int("entries", len(entries)),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("driver", cfg.Crawler.Driver),
	)

	summary, err := crawl(ctx, cfg, entries, logger)
	if err != nil {
		return err
	}
	logger.Info("crawl command finished", zap.Int("sites", summary.Total()))
	return nil
}
