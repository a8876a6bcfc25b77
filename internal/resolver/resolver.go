// Package resolver implements the domain pre-check that gates browser visits.
// Lookups are bounded by a short timeout and every failure, including a
// timeout, is reported as an unresolved host rather than an error.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/policy/ratelimit"
)

// Mode selects the lookup backend.
type Mode string

// Supported resolver modes.
const (
	ModeSystem Mode = "system"
	ModeUDP    Mode = "udp"
	ModeOff    Mode = "off"
)

const (
	defaultTimeout = 2 * time.Second
	defaultServer  = "8.8.8.8:53"
)

var errNoAddresses = errors.New("no addresses in answer")

// Config controls resolver behavior.
type Config struct {
	Mode    Mode
	Server  string
	Timeout time.Duration
	QPS     float64
	Burst   int
}

type backend interface {
	name() string
	lookup(ctx context.Context, host string) (int, error)
}

// Resolver runs bounded lookups against a backend.
type Resolver struct {
	backend backend
	timeout time.Duration
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds the resolver selected by cfg.Mode.
func New(cfg Config, logger *zap.Logger) (crawler.Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	var b backend
	switch Mode(strings.ToLower(string(cfg.Mode))) {
	case "", ModeSystem:
		b = systemBackend{resolver: net.DefaultResolver}
	case ModeUDP:
		server := cfg.Server
		if server == "" {
			server = defaultServer
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		b = newUDPBackend(server, cfg.Timeout)
	case ModeOff:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown resolver mode %q", cfg.Mode)
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.QPS, DefaultBurst: cfg.Burst})
	return newWithBackend(b, cfg.Timeout, limiter, logger), nil
}

func newWithBackend(b backend, timeout time.Duration, limiter *ratelimit.Limiter, logger *zap.Logger) *Resolver {
	return &Resolver{
		backend: b,
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}
}

type lookupResult struct {
	family int
	err    error
}

// Resolve checks host and always returns; a slow backend is abandoned once
// the timeout expires.
func (r *Resolver) Resolve(ctx context.Context, host string) crawler.Resolution {
	res := crawler.Resolution{Host: host}
	if strings.TrimSpace(host) == "" {
		res.Err = fmt.Errorf("%w: empty host", crawler.ErrDomainUnresolved)
		return res
	}

	// The lookup timeout starts once the throttle grants a token.
	if err := r.limiter.Wait(ctx, r.backend.name()); err != nil {
		res.Err = classify(host, err)
		return res
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()

	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- lookupResult{err: fmt.Errorf("lookup panic: %v", p)}
			}
		}()
		family, err := r.backend.lookup(lookupCtx, host)
		done <- lookupResult{family: family, err: err}
	}()

	var out lookupResult
	select {
	case out = <-done:
	case <-lookupCtx.Done():
		out = lookupResult{err: lookupCtx.Err()}
	}

	if out.err != nil {
		res.Err = classify(host, out.err)
		r.logger.Debug("lookup failed",
			zap.String("host", host),
			zap.String("backend", r.backend.name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(out.err),
		)
		return res
	}
	res.Resolved = true
	res.Family = out.family
	r.logger.Debug("lookup succeeded",
		zap.String("host", host),
		zap.String("backend", r.backend.name()),
		zap.Int("family", out.family),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func classify(host string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawler.ErrResolveTimeout, host)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTimeout {
		return fmt.Errorf("%w: %s", crawler.ErrResolveTimeout, host)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", crawler.ErrResolveTimeout, host)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrDomainUnresolved, host, err)
}

// Disabled treats every host as resolved.
type Disabled struct{}

// Resolve implements crawler.Resolver.
func (Disabled) Resolve(_ context.Context, host string) crawler.Resolution {
	return crawler.Resolution{Host: host, Resolved: true}
}
