package crawler

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMarker is the diagnostic query parameter appended when AppendMarker is set.
const DefaultMarker = "mode=on"

// NormalizeOptions controls the URL policy applied to every site entry.
type NormalizeOptions struct {
	// AppendMarker forces the vendor diagnostic query parameter onto every URL.
	AppendMarker bool
	// Marker overrides DefaultMarker; a leading "?" is ignored.
	Marker string
	// TrailingSlash adds "/" to URLs that have no path.
	TrailingSlash bool
}

// Normalize turns a raw site entry into a navigable Target. It never fails:
// the worst an odd entry can do is produce a URL the browser rejects.
func Normalize(raw string, opts NormalizeOptions) Target {
	entry := CleanEntry(raw)

	target := entry
	if !hasHTTPScheme(target) {
		target = "http://" + target
	}
	if opts.TrailingSlash {
		target = ensureRootPath(target)
	}
	if opts.AppendMarker {
		target = appendQuery(target, markerOrDefault(opts.Marker))
	}

	return Target{
		URL:          target,
		OriginalHost: entry,
		ResolveHost:  resolveHost(target),
	}
}

// CleanEntry trims surrounding whitespace and a single trailing stray
// character left behind by exported host lists (a CSV comma, a quote, a CR).
func CleanEntry(raw string) string {
	entry := strings.TrimSpace(raw)
	last, size := utf8.DecodeLastRuneInString(entry)
	if size > 0 && isStray(last) {
		entry = strings.TrimSpace(entry[:len(entry)-size])
	}
	return entry
}

func isStray(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/'
}

func hasHTTPScheme(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func markerOrDefault(marker string) string {
	marker = strings.TrimPrefix(strings.TrimSpace(marker), "?")
	if marker == "" {
		return DefaultMarker
	}
	return marker
}

// splitFragment separates "#..." from the rest of the URL.
func splitFragment(raw string) (string, string) {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i], raw[i:]
	}
	return raw, ""
}

func ensureRootPath(raw string) string {
	schemeEnd := strings.Index(raw, "://") + len("://")
	rest := raw[schemeEnd:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		return raw + "/"
	}
	if rest[end] == '/' {
		return raw
	}
	return raw[:schemeEnd+end] + "/" + rest[end:]
}

func appendQuery(raw, marker string) string {
	base, fragment := splitFragment(raw)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	return base + sep + marker + fragment
}

// resolveHost extracts the lower-cased hostname and strips a leading "www.".
func resolveHost(target string) string {
	host := ""
	if parsed, err := url.Parse(target); err == nil {
		host = parsed.Hostname()
	}
	if host == "" {
		rest := target[strings.Index(target, "://")+len("://"):]
		if end := strings.IndexAny(rest, "/?#"); end >= 0 {
			rest = rest[:end]
		}
		host = rest
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.TrimPrefix(host, "www.")
}
