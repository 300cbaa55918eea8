package pattern

import (
	"errors"
	"strings"
)

// Kind tells the matcher how to interpret a rule pattern.
type Kind int

const (
	// Glob patterns contain no slash and are matched against the full path.
	Glob Kind = iota
	// Regex patterns are written as /expr/ and searched for anywhere in the path.
	Regex
	// Mime patterns are major/minor content types, either side may be *.
	Mime
)

var (
	// ErrEmptyPattern is returned for a rule with no pattern.
	ErrEmptyPattern = errors.New("empty pattern")
	// ErrInvalidPattern is returned when a pattern cannot be compiled or parsed.
	ErrInvalidPattern = errors.New("invalid pattern")
)

func (k Kind) String() string {
	switch k {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	case Mime:
		return "mime"
	default:
		return "unknown"
	}
}

// Classify tags a pattern and returns the text the matcher should use: the
// pattern itself for globs and content types, the inner expression for regexes.
func Classify(p string) (Kind, string, error) {
	if p == "" {
		return Glob, "", ErrEmptyPattern
	}
	if !strings.Contains(p, "/") {
		return Glob, p, nil
	}
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		return Regex, p[1 : len(p)-1], nil
	}
	return Mime, p, nil
}
