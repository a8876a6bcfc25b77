// Package sites selects the raw site entries a crawl run visits.
package sites

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultFile is the site list read when no other file is configured.
const DefaultFile = "rum_migration_domains.csv"

const maxLineBytes = 1 << 20

// ErrUsage reports arguments that do not form a selection.
var ErrUsage = errors.New("usage: run <url> | run <start> [end]")

// Selection is either a single literal URL or a line range of the site list.
type Selection struct {
	URL   string
	Start int
	End   int
}

// ParseSelection interprets CLI arguments. An argument starting with "http"
// selects that URL only. Otherwise the arguments are a start index and an
// optional end index; an omitted end, or one not past start, turns start into
// a count of sites taken from the top of the list.
func ParseSelection(args []string) (Selection, error) {
	if len(args) == 0 || len(args) > 2 {
		return Selection{}, ErrUsage
	}
	first := strings.TrimSpace(args[0])
	if strings.HasPrefix(strings.ToLower(first), "http") {
		if len(args) != 1 {
			return Selection{}, fmt.Errorf("%w: a literal URL takes no range", ErrUsage)
		}
		return Selection{URL: first}, nil
	}
	start, err := parseIndex(first)
	if err != nil {
		return Selection{}, err
	}
	end := 0
	if len(args) == 2 {
		if end, err = parseIndex(args[1]); err != nil {
			return Selection{}, err
		}
	}
	if end <= start {
		start, end = 0, start
	}
	return Selection{Start: start, End: end}, nil
}

func parseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a URL or line index", ErrUsage, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative index %d", ErrUsage, n)
	}
	return n, nil
}

// Literal reports whether the selection names a single URL.
func (s Selection) Literal() bool {
	return s.URL != ""
}

// String renders the selection for logs.
func (s Selection) String() string {
	if s.Literal() {
		return s.URL
	}
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Entries returns the selected entries. The site list at path is only opened
// for range selections.
func (s Selection) Entries(path string) ([]string, error) {
	if s.Literal() {
		return []string{s.URL}, nil
	}
	if path == "" {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site list: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := s.Read(f)
	if err != nil {
		return nil, fmt.Errorf("read site list %s: %w", path, err)
	}
	return entries, nil
}

// Read slices lines [Start, End) from r by raw line index. Blank lines inside
// the range are dropped.
func (s Selection) Read(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var entries []string
	for idx := 0; idx < s.End && scanner.Scan(); idx++ {
		if idx < s.Start {
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
