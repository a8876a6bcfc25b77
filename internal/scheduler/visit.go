package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/metrics"
)

// slot is owned by a single worker goroutine.
type slot struct {
	index   int
	session crawler.Session
}

func (sl *slot) close(logger *zap.Logger) {
	if sl.session == nil {
		return
	}
	if err := sl.session.Close(); err != nil {
		logger.Warn("session close failed", zap.Int("slot", sl.index), zap.Error(err))
	}
	sl.session = nil
}

type visitResult struct {
	findings []crawler.Finding
	err      error
	panicked bool
}

func (s *Scheduler) visit(ctx context.Context, sl *slot, task crawler.VisitTask, logger *zap.Logger) crawler.Outcome {
	started := s.cfg.Clock.Now()
	outcome := crawler.Outcome{
		RunID:   s.cfg.RunID,
		URL:     task.Target.URL,
		Host:    task.Target.OriginalHost,
		Started: started,
	}

	metrics.IncActiveVisits()
	defer metrics.DecActiveVisits()

	if sl.session == nil && !s.reopen(ctx, sl, logger) {
		outcome.Status = crawler.StatusNavigationError
		outcome.Err = fmt.Errorf("%w: %w", crawler.ErrNavigation, errNoSession).Error()
		outcome.Duration = s.cfg.Clock.Now().Sub(started)
		return outcome
	}

	visitCtx, cancel := context.WithTimeout(ctx, s.cfg.VisitTimeout)
	defer cancel()

	session := sl.session
	done := s.runVisit(visitCtx, session, task.Target.URL)

	var res visitResult
	abandoned := false
	select {
	case res = <-done:
	case <-visitCtx.Done():
		grace, cancelGrace := context.WithTimeout(ctx, s.cfg.AbandonGrace)
		select {
		case res = <-done:
		case <-grace.Done():
			abandoned = true
			res = visitResult{err: fmt.Errorf("%w: %s", crawler.ErrNavigationTimeout, task.Target.URL)}
		}
		cancelGrace()
	}
	outcome.Duration = s.cfg.Clock.Now().Sub(started)

	// A deadline that fires during inspection still times the visit out and
	// drops the partial findings.
	switch {
	case res.panicked:
		outcome.Status = crawler.StatusNavigationError
		outcome.Err = res.err.Error()
	case errors.Is(visitCtx.Err(), context.DeadlineExceeded):
		outcome.Status = crawler.StatusTimedOut
		outcome.Err = crawler.ErrNavigationTimeout.Error()
	case res.err == nil:
		outcome.Status = crawler.StatusLoaded
		outcome.Findings = res.findings
	case crawler.ClassifyLoadError(res.err) == crawler.StatusTimedOut:
		outcome.Status = crawler.StatusTimedOut
		outcome.Err = crawler.ErrNavigationTimeout.Error()
	default:
		outcome.Status = crawler.StatusNavigationError
		outcome.Err = res.err.Error()
	}

	switch {
	case abandoned:
		logger.Warn("driver did not return after visit deadline, replacing session",
			zap.String("url", task.Target.URL))
		go func() {
			<-done
			if err := session.Close(); err != nil {
				logger.Debug("abandoned session close failed", zap.Error(err))
			}
		}()
		sl.session = nil
		metrics.ObserveSessionRecycle()
		s.reopen(ctx, sl, logger)
	case outcome.Status != crawler.StatusLoaded:
		s.resetSlot(ctx, sl, logger)
	}
	return outcome
}

// runVisit loads and inspects url on session. Panics are returned as errors.
func (s *Scheduler) runVisit(ctx context.Context, session crawler.Session, url string) <-chan visitResult {
	done := make(chan visitResult, 1)
	go func() {
		var res visitResult
		defer func() {
			if p := recover(); p != nil {
				metrics.ObserveRecoveredPanic()
				s.logger.Error("visit panicked",
					zap.String("url", url),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				res = visitResult{err: fmt.Errorf("%w: panic: %v", crawler.ErrNavigation, p), panicked: true}
			}
			done <- res
		}()

		page, err := session.Load(ctx, url)
		if err != nil {
			res.err = err
			return
		}
		defer func() {
			if cerr := page.Close(); cerr != nil {
				s.logger.Debug("page close failed", zap.String("url", url), zap.Error(cerr))
			}
		}()
		res.findings = s.inspector.Inspect(ctx, page)
	}()
	return done
}

// resetSlot cleans the session after a failed visit, replacing it when the
// reset itself fails.
func (s *Scheduler) resetSlot(ctx context.Context, sl *slot, logger *zap.Logger) {
	if sl.session == nil {
		return
	}
	err := sl.session.Reset(ctx)
	if err == nil {
		return
	}
	logger.Warn("session reset failed, reopening", zap.Error(err))
	sl.close(logger)
	metrics.ObserveSessionRecycle()
	s.reopen(ctx, sl, logger)
}

func (s *Scheduler) reopen(ctx context.Context, sl *slot, logger *zap.Logger) bool {
	if ctx.Err() != nil {
		return false
	}
	sess, err := s.driver.NewSession(ctx)
	if err != nil {
		logger.Error("session reopen failed", zap.Error(err))
		return false
	}
	sl.session = sess
	return true
}
