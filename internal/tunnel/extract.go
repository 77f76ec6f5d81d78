package tunnel

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultPattern matches the quick-tunnel hostname cloudflared prints once
// the tunnel is registered.
const DefaultPattern = `https://[^\s|"']+\.trycloudflare\.com`

// Extractor pulls a public base URL out of one diagnostic line of the tunnel
// client.
type Extractor interface {
	Extract(line string) (string, bool)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(line string) (string, bool)

func (f ExtractorFunc) Extract(line string) (string, bool) { return f(line) }

// RegexpExtractor returns the leftmost match of a regular expression.
type RegexpExtractor struct {
	re *regexp.Regexp
}

// NewExtractor compiles pattern; an empty pattern selects DefaultPattern.
func NewExtractor(pattern string) (*RegexpExtractor, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexpExtractor{re: re}, nil
}

func (e *RegexpExtractor) Extract(line string) (string, bool) {
	m := e.re.FindString(line)
	if m == "" {
		return "", false
	}
	return strings.TrimRight(m, "/"), true
}

// PublicURL derives the URL handed to users. Directories are served at the
// tunnel root; a single file gets its escaped basename appended so the link
// downloads it directly.
func PublicURL(base, resourcePath string, isDir bool) string {
	if isDir {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(filepath.Base(resourcePath))
}
