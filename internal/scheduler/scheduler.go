// Package scheduler runs browser visits on a fixed pool of session slots.
//
// Each slot owns one browser session and pulls tasks from a shared bounded
// queue. A visit is bounded by a per-visit timeout, its panics are recovered
// and every task yields exactly one outcome on the sink. A sink failure is
// the only error that stops the pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/rum-crawler/internal/clock/system"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/metrics"
	"github.com/JakeFAU/rum-crawler/internal/queue/memory"
)

const (
	defaultConcurrency  = 1
	defaultVisitTimeout = 60 * time.Second
	defaultAbandonGrace = 5 * time.Second
)

var (
	// ErrAlreadyShutdown is returned by DrainAndShutdown when called twice and by
	// Submit after shutdown started.
	ErrAlreadyShutdown = errors.New("scheduler already shut down")
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("scheduler not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("scheduler already started")
	errNoSession      = errors.New("no browser session available")
)

// Config controls the pool.
type Config struct {
	// MaxConcurrency is the number of slots, and so of open sessions.
	MaxConcurrency int
	// VisitTimeout bounds navigation plus inspection of one site.
	VisitTimeout time.Duration
	// QueueDepth is the number of submitted tasks buffered ahead of the
	// slots. Zero means twice MaxConcurrency.
	QueueDepth int
	// AbandonGrace is how long a slot waits for a driver to return after
	// the visit deadline before replacing the session.
	AbandonGrace time.Duration
	RunID        string
	Clock        crawler.Clock
}

// Scheduler implements crawler.Submitter.
type Scheduler struct {
	cfg       Config
	driver    crawler.Driver
	inspector crawler.Inspector
	sink      crawler.Sink
	logger    *zap.Logger
	queue     *memory.Queue

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	shutdown bool
	summary  crawler.Summary

	seq atomic.Int64
}

// New validates cfg and collaborators.
func New(
	cfg Config,
	driver crawler.Driver,
	inspector crawler.Inspector,
	sink crawler.Sink,
	logger *zap.Logger,
) (*Scheduler, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultConcurrency
	}
	if cfg.VisitTimeout <= 0 {
		cfg.VisitTimeout = defaultVisitTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2 * cfg.MaxConcurrency
	}
	if cfg.AbandonGrace <= 0 {
		cfg.AbandonGrace = defaultAbandonGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &Scheduler{
		cfg:       cfg,
		driver:    driver,
		inspector: inspector,
		sink:      sink,
		logger:    logger,
		queue:     memory.NewQueue(cfg.QueueDepth),
	}, nil
}

// Start opens one session per slot and starts the workers. If any session
// fails to open, the ones already open are closed and the error returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.shutdown {
		return ErrAlreadyShutdown
	}

	slots, err := s.openSlots(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	s.group, s.gctx, s.cancel = group, gctx, cancel
	for _, sl := range slots {
		group.Go(func() error {
			return s.work(gctx, sl)
		})
	}
	s.started = true
	s.logger.Info("scheduler started",
		zap.Int("slots", len(slots)),
		zap.Duration("visit_timeout", s.cfg.VisitTimeout),
		zap.Int("queue_depth", s.cfg.QueueDepth),
	)
	return nil
}

func (s *Scheduler) openSlots(ctx context.Context) ([]*slot, error) {
	slots := make([]*slot, s.cfg.MaxConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := range slots {
		g.Go(func() error {
			sess, err := s.driver.NewSession(gctx)
			if err != nil {
				return fmt.Errorf("open session %d: %w", i, err)
			}
			slots[i] = &slot{index: i, session: sess}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sl := range slots {
			if sl != nil {
				sl.close(s.logger)
			}
		}
		return nil, err
	}
	return slots, nil
}

// Submit enqueues target, blocking while the queue is full.
func (s *Scheduler) Submit(ctx context.Context, target crawler.Target) error {
	s.mu.Lock()
	started, shutdown := s.started, s.shutdown
	s.mu.Unlock()
	switch {
	case shutdown:
		return ErrAlreadyShutdown
	case !started:
		return ErrNotStarted
	}
	if s.gctx.Err() != nil {
		return fmt.Errorf("submit %s: %w", target.URL, context.Cause(s.gctx))
	}

	enqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.gctx, cancel)
	defer stop()

	task := crawler.VisitTask{
		Target:    target,
		Seq:       int(s.seq.Add(1)),
		Submitted: s.cfg.Clock.Now(),
	}
	if err := s.queue.Enqueue(enqCtx, task); err != nil {
		if s.gctx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("submit %s: %w", target.URL, context.Cause(s.gctx))
		}
		return fmt.Errorf("submit %s: %w", target.URL, err)
	}

	s.mu.Lock()
	s.summary.Submitted++
	s.mu.Unlock()
	return nil
}

// DrainAndShutdown stops intake, waits for every queued task to produce an
// outcome and closes all sessions. If ctx ends first the remaining tasks are
// abandoned.
func (s *Scheduler) DrainAndShutdown(ctx context.Context) (crawler.Summary, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return crawler.Summary{}, ErrAlreadyShutdown
	}
	s.shutdown = true
	started := s.started
	s.mu.Unlock()

	s.queue.Close()
	if !started {
		return crawler.Summary{}, nil
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- s.group.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		s.cancel()
		err = <-waitCh
		if err == nil || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("drain interrupted: %w", ctx.Err())
		}
	}
	s.cancel()

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()

	s.logger.Info("scheduler drained",
		zap.Int("submitted", summary.Submitted),
		zap.Int("loaded", summary.Loaded),
		zap.Int("timed_out", summary.TimedOut),
		zap.Int("navigation_error", summary.NavigationError),
		zap.Int("abandoned", summary.Submitted-summary.Total()),
	)
	return summary, err
}

func (s *Scheduler) work(ctx context.Context, sl *slot) error {
	logger := s.logger.With(zap.Int("slot", sl.index))
	defer sl.close(logger)

	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				return nil
			}
			return err
		}

		outcome := s.visit(ctx, sl, task, logger)
		if err := s.sink.Write(ctx, outcome); err != nil {
			logger.Error("sink write failed, aborting pool", zap.String("url", outcome.URL), zap.Error(err))
			return fmt.Errorf("%w: %s: %w", crawler.ErrSinkWrite, outcome.URL, err)
		}
		metrics.ObserveVisit(string(outcome.Status), outcome.Duration)

		s.mu.Lock()
		s.summary.Add(outcome.Status)
		s.mu.Unlock()

		logger.Info("site visited",
			zap.Int("seq", task.Seq),
			zap.String("url", outcome.URL),
			zap.String("status", string(outcome.Status)),
			zap.Duration("duration", outcome.Duration),
		)
	}
}
