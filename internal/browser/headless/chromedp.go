// Package headless drives Chrome through the DevTools protocol with chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/browser"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

const resetTimeout = 10 * time.Second

// Driver implements crawler.Driver using chromedp and headless Chrome.
type Driver struct {
	opts        browser.Options
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc

	mu           sync.Mutex
	shared       context.Context
	sharedCancel context.CancelFunc
	closed       bool
}

// New prepares an allocator. No browser is launched until the first session.
func New(opts browser.Options, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	granularity, err := browser.ParseGranularity(string(opts.Granularity))
	if err != nil {
		return nil, err
	}
	opts.Granularity = granularity

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	return &Driver{
		opts:        opts,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func allocatorOptions(opts browser.Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		out = append(out, chromedp.Flag("headless", "new"))
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}
	out = append(out,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("mute-audio", true),
	)
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	return out
}

// NewSession opens a slot. In process granularity this launches a browser.
func (d *Driver) NewSession(ctx context.Context) (crawler.Session, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("chromedp driver closed")
	}

	if d.opts.Granularity == browser.GranularityContext {
		parent, err := d.sharedBrowser(ctx)
		if err != nil {
			return nil, err
		}
		return d.newSession(parent, nil, true), nil
	}

	browserCtx, cancel := chromedp.NewContext(d.allocator)
	if err := startBrowser(ctx, browserCtx, cancel); err != nil {
		cancel()
		return nil, err
	}
	return d.newSession(browserCtx, cancel, false), nil
}

func (d *Driver) newSession(parent context.Context, cancel context.CancelFunc, isolate bool) *session {
	return &session{
		parent:  parent,
		cancel:  cancel,
		isolate: isolate,
		opts:    d.opts,
		logger:  d.logger,
	}
}

func (d *Driver) sharedBrowser(ctx context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shared != nil && d.shared.Err() == nil {
		return d.shared, nil
	}
	browserCtx, cancel := chromedp.NewContext(d.allocator)
	if err := startBrowser(ctx, browserCtx, cancel); err != nil {
		cancel()
		return nil, err
	}
	d.shared, d.sharedCancel = browserCtx, cancel
	return browserCtx, nil
}

func startBrowser(ctx, browserCtx context.Context, cancel context.CancelFunc) error {
	stop := browser.ForwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("chromedp start: %w", err)
	}
	return nil
}

// Close shuts down the shared browser and the allocator.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.shared != nil {
		err = chromedp.Cancel(d.shared)
		d.sharedCancel()
	}
	d.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close shared browser: %w", err)
	}
	return nil
}

type session struct {
	parent  context.Context
	cancel  context.CancelFunc
	isolate bool
	opts    browser.Options
	logger  *zap.Logger
}

// Load opens a fresh tab for url. The tab lives until the returned page is
// closed or ctx ends.
func (s *session) Load(ctx context.Context, url string) (crawler.Page, error) {
	if err := s.parent.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser gone: %w", crawler.ErrNavigation, err)
	}
	var tabOpts []chromedp.ContextOption
	if s.isolate {
		tabOpts = append(tabOpts, chromedp.WithNewBrowserContext())
	}
	tabCtx, cancelTab := chromedp.NewContext(s.parent, tabOpts...)
	stopForward := browser.ForwardCancel(ctx, cancelTab)

	runCtx, cancelRun := withDeadlineOf(tabCtx, ctx)
	defer cancelRun()

	waiter := newLifecycleWaiter()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			waiter.handle(e)
		case *runtime.EventConsoleAPICalled:
			if s.opts.CaptureConsole {
				s.logger.Debug("page console",
					zap.String("url", url),
					zap.String("type", string(e.Type)),
					zap.String("text", consoleText(e.Args)),
				)
			}
		}
	})

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
				waiter.setMainFrame(cdp.FrameID(c.Target.TargetID))
			}
			return nil
		}),
		page.SetLifecycleEventsEnabled(true),
	}
	if s.opts.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.opts.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.ActionFunc(waiter.wait),
	)

	if err := chromedp.Run(runCtx, tasks); err != nil {
		stopForward()
		cancelTab()
		return nil, classify(ctx, runCtx, url, err)
	}
	return &tabPage{tabCtx: tabCtx, cancel: cancelTab, stopForward: stopForward}, nil
}

// Reset checks the browser still answers by loading a blank tab.
func (s *session) Reset(ctx context.Context) error {
	if err := s.parent.Err(); err != nil {
		return fmt.Errorf("browser gone: %w", err)
	}
	tabCtx, cancelTab := chromedp.NewContext(s.parent)
	defer cancelTab()
	stop := browser.ForwardCancel(ctx, cancelTab)
	defer stop()

	probeCtx, cancel := context.WithTimeout(tabCtx, resetTimeout)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	if s.cancel == nil {
		return nil
	}
	err := chromedp.Cancel(s.parent)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type tabPage struct {
	tabCtx      context.Context
	cancel      context.CancelFunc
	stopForward func()
	closeOnce   sync.Once
}

func (p *tabPage) Eval(ctx context.Context, expression string, out any) error {
	evalCtx, cancel := withDeadlineOf(p.tabCtx, ctx)
	defer cancel()
	stop := browser.ForwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("chromedp evaluate: %w", err)
	}
	return nil
}

func (p *tabPage) Close() error {
	p.closeOnce.Do(func() {
		p.stopForward()
		p.cancel()
	})
	return nil
}

// withDeadlineOf derives from base (which carries the chromedp target) while
// honoring the deadline of the caller's context.
func withDeadlineOf(base, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

func classify(caller, run context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(caller.Err(), context.DeadlineExceeded) ||
		errors.Is(run.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawler.ErrNavigationTimeout, url)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrNavigation, url, err)
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}
