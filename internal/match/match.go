package match

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"mimewatch/internal/config"
	"mimewatch/internal/pattern"
)

// regexTimeout bounds backtracking on a single path.
const regexTimeout = time.Second

// Input describes the file an event is about. An empty ContentType means
// detection failed and content type rules cannot match.
type Input struct {
	Path        string
	ContentType string
}

// Outcome is the result of rule selection. Matched is false for NoMatch.
type Outcome struct {
	Matched bool
	Index   int
	Rule    config.Rule
	Kind    pattern.Kind
}

// NoMatch is returned when no rule accepts the input.
var NoMatch = Outcome{Index: -1}

// ConfigError reports a rule whose pattern cannot be evaluated.
type ConfigError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule %d (%q): %v", e.Index, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Matcher selects the first rule that matches an input. Compiled patterns
// are cached by pattern text, so a Matcher may be shared across goroutines.
type Matcher struct {
	mu      sync.Mutex
	globs   map[string]globMatcher
	regexes map[string]*regexp2.Regexp
}

// New returns a matcher.
func New() *Matcher {
	return &Matcher{
		globs:   map[string]globMatcher{},
		regexes: map[string]*regexp2.Regexp{},
	}
}

// Match evaluates rules in order and returns the first that matches. A rule
// that cannot be evaluated stops the scan with a *ConfigError.
func (m *Matcher) Match(rules []config.Rule, in Input) (Outcome, error) {
	for i, r := range rules {
		kind, expr, err := pattern.Classify(r.Pattern)
		if err != nil {
			return NoMatch, &ConfigError{Index: i, Pattern: r.Pattern, Err: err}
		}
		var ok bool
		switch kind {
		case pattern.Glob:
			ok, err = m.matchGlob(expr, in.Path)
		case pattern.Regex:
			ok, err = m.matchRegex(expr, in.Path)
		case pattern.Mime:
			ok, err = MatchContentType(expr, in.ContentType)
		}
		if err != nil {
			return NoMatch, &ConfigError{Index: i, Pattern: r.Pattern, Err: err}
		}
		if ok {
			return Outcome{Matched: true, Index: i, Rule: r, Kind: kind}, nil
		}
	}
	return NoMatch, nil
}

// Compile checks every rule can be evaluated and warms the cache.
func (m *Matcher) Compile(rules []config.Rule) error {
	for i, r := range rules {
		kind, expr, err := pattern.Classify(r.Pattern)
		if err == nil {
			switch kind {
			case pattern.Glob:
				_, err = m.glob(expr)
			case pattern.Regex:
				_, err = m.regex(expr)
			case pattern.Mime:
				_, _, err = splitContentType(expr)
			}
		}
		if err != nil {
			return &ConfigError{Index: i, Pattern: r.Pattern, Err: err}
		}
	}
	return nil
}

func (m *Matcher) matchGlob(expr, path string) (bool, error) {
	g, err := m.glob(expr)
	if err != nil {
		return false, err
	}
	ok, err := g.MatchString(path)
	if err != nil {
		return false, fmt.Errorf("glob %q: %w", expr, err)
	}
	return ok, nil
}

func (m *Matcher) matchRegex(expr, path string) (bool, error) {
	re, err := m.regex(expr)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(path)
	if err != nil {
		return false, fmt.Errorf("regex %q: %w", expr, err)
	}
	return ok, nil
}

func (m *Matcher) glob(expr string) (globMatcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.globs[expr]; ok {
		return g, nil
	}
	g, err := compileGlob(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: glob %q: %v", pattern.ErrInvalidPattern, expr, err)
	}
	m.globs[expr] = g
	return g, nil
}

func (m *Matcher) regex(expr string) (*regexp2.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.regexes[expr]; ok {
		return re, nil
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%w: regex %q: %v", pattern.ErrInvalidPattern, expr, err)
	}
	re.MatchTimeout = regexTimeout
	m.regexes[expr] = re
	return re, nil
}

// MatchContentType compares a major/minor pattern against a detected content
// type. Either pattern segment may be * to accept any value. Parameters such
// as "; charset=utf-8" on the detected type are ignored.
func MatchContentType(pat, contentType string) (bool, error) {
	pMajor, pMinor, err := splitContentType(pat)
	if err != nil {
		return false, err
	}
	if contentType == "" {
		return false, nil
	}
	if semi := strings.IndexByte(contentType, ';'); semi >= 0 {
		contentType = contentType[:semi]
	}
	major, minor, ok := strings.Cut(strings.TrimSpace(contentType), "/")
	if !ok || major == "" || minor == "" {
		return false, nil
	}
	if pMajor != "*" && !strings.EqualFold(pMajor, major) {
		return false, nil
	}
	if pMinor != "*" && !strings.EqualFold(pMinor, minor) {
		return false, nil
	}
	return true, nil
}

func splitContentType(pat string) (string, string, error) {
	major, minor, ok := strings.Cut(pat, "/")
	if !ok || major == "" || minor == "" || strings.Contains(minor, "/") {
		return "", "", fmt.Errorf("%w: content type %q must be major/minor", pattern.ErrInvalidPattern, pat)
	}
	return major, minor, nil
}
