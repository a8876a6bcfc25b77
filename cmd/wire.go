package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/browser/headless"
	"github.com/JakeFAU/rum-crawler/internal/browser/rodbrowser"
	"github.com/JakeFAU/rum-crawler/internal/clock/system"
	"github.com/JakeFAU/rum-crawler/internal/config"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/id/uuid"
	"github.com/JakeFAU/rum-crawler/internal/inspect"
	"github.com/JakeFAU/rum-crawler/internal/metrics"
	"github.com/JakeFAU/rum-crawler/internal/resolver"
	"github.com/JakeFAU/rum-crawler/internal/scheduler"
	"github.com/JakeFAU/rum-crawler/internal/sink"
	"github.com/JakeFAU/rum-crawler/internal/sink/postgres"
	"github.com/JakeFAU/rum-crawler/internal/sink/pubsub"
	"github.com/JakeFAU/rum-crawler/internal/storage/gcs"
)

const closeTimeout = 30 * time.Second

// newDriver is the browser factory. It is a variable so tests can run the
// full pipeline without Chrome.
var newDriver = func(cfg config.Config, logger *zap.Logger) (crawler.Driver, error) {
	opts := cfg.BrowserOptions()
	if strings.EqualFold(cfg.Crawler.Driver, config.DriverRod) {
		return rodbrowser.New(opts, logger)
	}
	return headless.New(opts, logger)
}

// crawl wires every component for one run and blocks until all entries have
// an outcome.
func crawl(ctx context.Context, cfg config.Config, entries []string, logger *zap.Logger) (crawler.Summary, error) {
	runID, err := runIDFor(cfg, uuid.New())
	if err != nil {
		return crawler.Summary{}, err
	}
	logger = logger.With(zap.String("run_id", runID))

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, logger.Named("metrics"))
		if err := srv.Start(); err != nil {
			return crawler.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown failed", zap.Error(err))
			}
		}()
	}

	res, err := resolver.New(cfg.ResolverOptions(), logger.Named("resolver"))
	if err != nil {
		return crawler.Summary{}, err
	}
	insp, err := inspect.New(cfg.Probes, logger.Named("inspect"))
	if err != nil {
		return crawler.Summary{}, err
	}

	driver, err := newDriver(cfg, logger.Named("browser"))
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("init browser driver: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("failed to close browser driver", zap.Error(err))
		}
	}()

	out, err := openSinks(ctx, cfg, insp.Probes(), logger)
	if err != nil {
		return crawler.Summary{}, err
	}

	clock := system.New()
	sched, err := scheduler.New(scheduler.Config{
		MaxConcurrency: cfg.Crawler.Concurrency,
		VisitTimeout:   cfg.Crawler.VisitTimeout,
		QueueDepth:     cfg.Crawler.QueueDepth,
		AbandonGrace:   cfg.Crawler.AbandonGrace,
		RunID:          runID,
		Clock:          clock,
	}, driver, insp, out, logger.Named("scheduler"))
	if err != nil {
		return crawler.Summary{}, errors.Join(err, closeSink(ctx, out))
	}
	if err := sched.Start(ctx); err != nil {
		return crawler.Summary{}, errors.Join(fmt.Errorf("start scheduler: %w", err), closeSink(ctx, out))
	}

	runner, err := crawler.NewRunner(crawler.RunnerConfig{
		RunID: runID,
		Normalize: crawler.NormalizeOptions{
			AppendMarker:  cfg.Crawler.AppendMarker,
			Marker:        cfg.Crawler.Marker,
			TrailingSlash: cfg.Crawler.TrailingSlash,
		},
		ResolveConcurrency: cfg.Resolver.Concurrency,
	}, res, sched, out, clock, logger.Named("runner"))
	if err != nil {
		_, drainErr := sched.DrainAndShutdown(ctx)
		return crawler.Summary{}, errors.Join(err, drainErr, closeSink(ctx, out))
	}

	summary, runErr := runner.Run(ctx, entries)
	if err := closeSink(ctx, out); err != nil {
		return summary, errors.Join(runErr, err)
	}
	if runErr != nil {
		return summary, runErr
	}

	if cfg.Archive.GCSBucket != "" {
		if err := archive(ctx, cfg, runID, logger); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// runIDFor returns the configured run id, or a fresh one from ids.
func runIDFor(cfg config.Config, ids crawler.IDGenerator) (string, error) {
	if id := strings.TrimSpace(cfg.Crawler.RunID); id != "" {
		if !uuid.Valid(id) {
			return "", fmt.Errorf("run id %q is not a UUID", id)
		}
		return id, nil
	}
	id, err := ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// openSinks builds the file sink plus any configured Postgres and Pub/Sub sinks.
func openSinks(ctx context.Context, cfg config.Config, probes []inspect.Probe, logger *zap.Logger) (crawler.Sink, error) {
	labels := make(map[string]string, len(probes))
	for _, p := range probes {
		labels[p.Name] = p.DisplayName()
	}
	file, err := sink.Open(sink.Options{
		Path:   cfg.Output.Path,
		Format: sink.Format(cfg.Output.Format),
		Labels: labels,
	})
	if err != nil {
		return nil, err
	}
	sinks := sink.Multi{file}

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:         cfg.Postgres.DSN,
			Table:       cfg.Postgres.Table,
			MaxConns:    cfg.Postgres.MaxConns,
			CreateTable: cfg.Postgres.CreateTable,
		})
		if err != nil {
			return nil, errors.Join(err, closeSink(ctx, sinks))
		}
		sinks = append(sinks, pg)
		logger.Info("postgres sink enabled", zap.String("table", cfg.Postgres.Table))
	}

	if cfg.PubSub.Topic != "" {
		ps, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic})
		if err != nil {
			return nil, errors.Join(err, closeSink(ctx, sinks))
		}
		sinks = append(sinks, ps)
		logger.Info("pubsub sink enabled", zap.String("topic", cfg.PubSub.Topic))
	}

	if len(sinks) == 1 {
		return file, nil
	}
	return sinks, nil
}

func closeSink(ctx context.Context, s crawler.Sink) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		return fmt.Errorf("close sinks: %w", err)
	}
	return nil
}

func archive(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) error {
	archiver, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket, Prefix: cfg.Archive.Prefix}, logger.Named("archive"))
	if err != nil {
		return err
	}
	defer func() { _ = archiver.Close() }()

	contentType := "text/csv; charset=utf-8"
	if f, _ := sink.ParseFormat(cfg.Output.Format); f == sink.FormatJSONL {
		contentType = "application/x-ndjson"
	}
	if _, err := archiver.ArchiveFile(ctx, runID, cfg.Output.Path, contentType); err != nil {
		return fmt.Errorf("archive results: %w", err)
	}
	return nil
}
