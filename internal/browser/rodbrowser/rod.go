// Package rodbrowser drives Chrome with go-rod as an alternative to chromedp.
package rodbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/browser"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

const resetTimeout = 10 * time.Second

// Driver implements crawler.Driver on top of rod.
type Driver struct {
	opts   browser.Options
	logger *zap.Logger

	mu     sync.Mutex
	shared *instance
	closed bool
}

// instance is one launched Chrome process and its CDP connection.
type instance struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func (i *instance) close() error {
	var err error
	if i.browser != nil {
		err = i.browser.Close()
	}
	if i.launcher != nil {
		i.launcher.Cleanup()
	}
	return err
}

// New validates opts. Chrome is launched lazily by NewSession.
func New(opts browser.Options, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	granularity, err := browser.ParseGranularity(string(opts.Granularity))
	if err != nil {
		return nil, err
	}
	opts.Granularity = granularity
	return &Driver{opts: opts, logger: logger}, nil
}

func (d *Driver) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(d.opts.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("mute-audio").
		Set("no-first-run")
	if d.opts.ExecPath != "" {
		l = l.Bin(d.opts.ExecPath)
	}
	if d.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	if d.opts.UserAgent != "" {
		l = l.Set("user-agent", d.opts.UserAgent)
	}
	return l
}

func (d *Driver) launch(ctx context.Context) (*instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rod launch: %w", err)
	}
	l := d.newLauncher()
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("rod connect: %w", err)
	}
	d.logger.Debug("launched chrome", zap.String("control_url", u))
	return &instance{launcher: l, browser: b}, nil
}

// NewSession opens a slot. In process granularity this launches a browser.
func (d *Driver) NewSession(ctx context.Context) (crawler.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("rod driver closed")
	}

	if d.opts.Granularity == browser.GranularityContext {
		if d.shared == nil {
			inst, err := d.launch(ctx)
			if err != nil {
				return nil, err
			}
			d.shared = inst
		}
		return &session{inst: d.shared, isolate: true, opts: d.opts, logger: d.logger}, nil
	}

	inst, err := d.launch(ctx)
	if err != nil {
		return nil, err
	}
	return &session{inst: inst, owned: true, opts: d.opts, logger: d.logger}, nil
}

// Close shuts down the shared browser, if any.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.shared == nil {
		return nil
	}
	if err := d.shared.close(); err != nil {
		return fmt.Errorf("close shared browser: %w", err)
	}
	return nil
}

type session struct {
	inst    *instance
	owned   bool
	isolate bool
	opts    browser.Options
	logger  *zap.Logger
}

func (s *session) Load(ctx context.Context, url string) (crawler.Page, error) {
	owner := s.inst.browser
	var incognito *rod.Browser
	if s.isolate {
		b, err := owner.Incognito()
		if err != nil {
			return nil, fmt.Errorf("%w: incognito context: %w", crawler.ErrNavigation, err)
		}
		incognito, owner = b, b
	}

	raw, err := owner.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		closeQuietly(incognito)
		return nil, classify(ctx, url, fmt.Errorf("create page: %w", err))
	}
	p := &rodPage{page: raw, incognito: incognito}

	scoped := raw.Context(ctx)
	if s.opts.CaptureConsole {
		go scoped.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
			s.logger.Debug("page console",
				zap.String("url", url),
				zap.String("type", string(e.Type)),
				zap.String("text", consoleText(e.Args)),
			)
		})()
	}

	waitIdle := scoped.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := scoped.Navigate(url); err != nil {
		_ = p.Close()
		return nil, classify(ctx, url, err)
	}
	if err := scoped.WaitLoad(); err != nil {
		_ = p.Close()
		return nil, classify(ctx, url, err)
	}
	waitIdle()
	if err := ctx.Err(); err != nil {
		_ = p.Close()
		return nil, classify(ctx, url, err)
	}
	return p, nil
}

// Reset checks the browser connection still answers.
func (s *session) Reset(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()
	if _, err := (proto.BrowserGetVersion{}).Call(s.inst.browser.Context(probeCtx)); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.inst.close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type rodPage struct {
	page      *rod.Page
	incognito *rod.Browser
	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) Eval(ctx context.Context, expression string, out any) error {
	res, err := p.page.Context(ctx).Eval("() => (" + expression + ")")
	if err != nil {
		return fmt.Errorf("rod evaluate: %w", err)
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.page.Close()
		closeQuietly(p.incognito)
	})
	return p.closeErr
}

func closeQuietly(b *rod.Browser) {
	if b != nil {
		_ = b.Close()
	}
}

func classify(ctx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawler.ErrNavigationTimeout, url)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrNavigation, url, err)
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	text := ""
	for i, arg := range args {
		if arg == nil {
			continue
		}
		if i > 0 {
			text += " "
		}
		switch {
		case arg.Value.Nil():
			text += arg.Description
		default:
			text += arg.Value.String()
		}
	}
	return text
}
