// Package sink writes crawl outcomes to line-oriented files and fans them out
// to additional destinations.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

// Format selects the on-disk encoding.
type Format string

// Supported output formats.
const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts the config spelling of a format.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSONL, "json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q", raw)
	}
}

type encoder func(crawler.Outcome) ([]byte, error)

// LineSink appends one encoded line per outcome. Writes are serialized and
// flushed immediately so a crash loses at most the line being written.
type LineSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	encode encoder
	closed bool
}

func newLineSink(w io.Writer, encode encoder) *LineSink {
	s := &LineSink{w: bufio.NewWriter(w), encode: encode}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// Options configures Open.
type Options struct {
	Path   string
	Format Format
	// Labels maps finding libraries to the names used in CSV markers.
	Labels map[string]string
}

// Open creates (or truncates) the output file. Path "-" writes to stdout.
func Open(opts Options) (*LineSink, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	var w io.Writer = os.Stdout
	if opts.Path != "" && opts.Path != "-" {
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open output %s: %w", opts.Path, err)
		}
		w = f
	}
	return New(w, format, opts.Labels), nil
}

// New wraps w with the encoder for format.
func New(w io.Writer, format Format, labels map[string]string) *LineSink {
	if format == FormatJSONL {
		return newLineSink(w, encodeJSONL)
	}
	return newLineSink(w, csvEncoder(labels))
}

// Write implements crawler.Sink.
func (s *LineSink) Write(_ context.Context, outcome crawler.Outcome) error {
	line, err := s.encode(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome %s: %w", outcome.URL, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush outcome: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *LineSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	var closeErr error
	if s.closer != nil {
		closeErr = s.closer.Close()
	}
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// Multi tees outcomes to every sink. A write fails if any sink fails.
type Multi []crawler.Sink

// Write implements crawler.Sink.
func (m Multi) Write(ctx context.Context, outcome crawler.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
