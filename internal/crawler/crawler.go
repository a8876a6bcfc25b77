package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/rum-crawler/internal/metrics"
)

const defaultResolveConcurrency = 8

// RunnerConfig holds the settings for a crawl run.
type RunnerConfig struct {
	RunID              string
	Normalize          NormalizeOptions
	ResolveConcurrency int
}

// Runner gates site entries through the resolver and hands resolved targets
// to the scheduler. Unresolved sites are recorded directly on the sink and
// never reach a browser.
type Runner struct {
	cfg       RunnerConfig
	resolver  Resolver
	submitter Submitter
	sink      Sink
	clock     Clock
	logger    *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// NewRunner wires the collaborators of a crawl run.
func NewRunner(
	cfg RunnerConfig,
	resolver Resolver,
	submitter Submitter,
	sink Sink,
	clock Clock,
	logger *zap.Logger,
) (*Runner, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResolveConcurrency <= 0 {
		cfg.ResolveConcurrency = defaultResolveConcurrency
	}
	return &Runner{
		cfg:       cfg,
		resolver:  resolver,
		submitter: submitter,
		sink:      sink,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run crawls every entry and blocks until all visits are drained. The
// scheduler is always drained, even when the run aborts early.
func (r *Runner) Run(ctx context.Context, entries []string) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ResolveConcurrency)

	for i, raw := range entries {
		if CleanEntry(raw) == "" {
			r.logger.Debug("skipping blank site entry", zap.Int("index", i))
			continue
		}
		if gctx.Err() != nil {
			break
		}
		target := Normalize(raw, r.cfg.Normalize)
		g.Go(func() error {
			return r.dispatch(gctx, target)
		})
	}
	gateErr := g.Wait()

	visited, drainErr := r.submitter.DrainAndShutdown(ctx)

	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()
	summary.Merge(visited)

	r.logger.Info("crawl run finished",
		zap.String("run_id", r.cfg.RunID),
		zap.Int("submitted", summary.Submitted),
		zap.Int("loaded", summary.Loaded),
		zap.Int("timed_out", summary.TimedOut),
		zap.Int("navigation_error", summary.NavigationError),
		zap.Int("unresolved", summary.Unresolved),
	)

	if err := errors.Join(gateErr, drainErr); err != nil {
		return summary, fmt.Errorf("crawl run: %w", err)
	}
	return summary, nil
}

func (r *Runner) dispatch(ctx context.Context, target Target) error {
	res := r.resolver.Resolve(ctx, target.ResolveHost)
	if !res.Resolved {
		metrics.ObserveResolution(resolutionLabel(res))
		r.logger.Info("domain unresolved, skipping",
			zap.String("url", target.URL),
			zap.String("host", res.Host),
			zap.Error(res.Err),
		)
		return r.recordUnresolved(ctx, target, res)
	}
	metrics.ObserveResolution("resolved")
	r.logger.Debug("domain resolved",
		zap.String("url", target.URL),
		zap.String("host", res.Host),
		zap.Int("family", res.Family),
	)
	if err := r.submitter.Submit(ctx, target); err != nil {
		return fmt.Errorf("submit %s: %w", target.URL, err)
	}
	return nil
}

func (r *Runner) recordUnresolved(ctx context.Context, target Target, res Resolution) error {
	errText := ErrDomainUnresolved.Error()
	if res.Err != nil {
		errText = res.Err.Error()
	}
	outcome := Outcome{
		RunID:   r.cfg.RunID,
		URL:     target.URL,
		Host:    target.OriginalHost,
		Status:  StatusUnresolved,
		Err:     errText,
		Started: r.clock.Now(),
	}
	if err := r.sink.Write(ctx, outcome); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSinkWrite, target.URL, err)
	}
	metrics.ObserveVisit(string(StatusUnresolved), 0)

	r.mu.Lock()
	r.summary.Add(StatusUnresolved)
	r.mu.Unlock()
	return nil
}

func resolutionLabel(res Resolution) string {
	if errors.Is(res.Err, ErrResolveTimeout) {
		return "timeout"
	}
	return "unresolved"
}
