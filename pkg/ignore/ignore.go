// Package ignore implements .tomeignore handling and the filtered tree copy
// shared by every fetch strategy.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/tomecli/tome/pkg/logging"
)

// FileName is the ignore file looked up at the root of a fetched tree.
const FileName = ".tomeignore"

// Matcher tests paths against shell-glob patterns. As with fnmatch, "*"
// also matches path separators.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
	logger   zerolog.Logger
}

// NewMatcher compiles the given patterns. The ignore file itself is always
// one of the patterns.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{logger: logging.GetLogger("ignore")}
	m.add(FileName)
	for _, p := range patterns {
		m.add(p)
	}
	return m
}

// Load reads root/.tomeignore. A missing file yields a matcher that only
// ignores the ignore file itself.
func Load(root string) (*Matcher, error) {
	path := filepath.Join(root, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMatcher(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	patterns, err := parse(bufio.NewScanner(f))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return NewMatcher(patterns...), nil
}

// parse returns one pattern per non-blank line, with "#" comments stripped,
// including trailing ones.
func parse(scanner *bufio.Scanner) ([]string, error) {
	var patterns []string
	for scanner.Scan() {
		content, _, _ := strings.Cut(scanner.Text(), "#")
		if content = strings.TrimSpace(content); content != "" {
			patterns = append(patterns, content)
		}
	}
	return patterns, scanner.Err()
}

func (m *Matcher) add(pattern string) {
	for _, p := range m.patterns {
		if p == pattern {
			return
		}
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		// Malformed globs (e.g. an unclosed "[") match literally.
		m.logger.Debug().Str("pattern", pattern).Err(err).Msg("Treating invalid glob as a literal")
		g = glob.MustCompile(glob.QuoteMeta(pattern))
	}
	m.patterns = append(m.patterns, pattern)
	m.globs = append(m.globs, g)
}

// Patterns returns the active patterns in load order.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether path, slash-separated and relative to the tree
// root, matches any pattern.
func (m *Matcher) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range m.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
