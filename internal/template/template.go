package template

import (
	"errors"
	"strings"
)

// Marker is the token replaced by the quoted file path.
const Marker = "%%"

// ErrMissingMarker is returned for a command template without the marker.
var ErrMissingMarker = errors.New("handler template has no " + Marker + " placeholder")

// Command is a handler template with the path substituted.
type Command struct {
	// Line is the shell form with the path in double quotes. It is what gets
	// logged and, when Argv is nil, what /bin/sh runs.
	Line string
	// Argv is set when the template needs no shell: the first field is the
	// program and the marker was a word of its own, replaced by the raw path.
	Argv []string
}

// shellMeta are characters that make a template depend on shell parsing.
const shellMeta = "|&;<>()$`\\\"'*?[]#~=%{}!\n"

// Expand substitutes the first marker in tmpl with the double-quoted path,
// keeping the text before and after it verbatim.
func Expand(tmpl, path string) (Command, error) {
	before, after, ok := strings.Cut(tmpl, Marker)
	if !ok {
		return Command{}, ErrMissingMarker
	}
	cmd := Command{Line: before + Quote(path) + after}
	cmd.Argv = argv(before, after, path)
	return cmd, nil
}

// Quote wraps path in double quotes, escaping the characters that keep their
// meaning inside them.
func Quote(path string) string {
	var b strings.Builder
	b.Grow(len(path) + 2)
	b.WriteByte('"')
	// Byte-wise: file names need not be valid UTF-8.
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '"', '\\', '$', '`':
			b.WriteByte('\\')
		}
		b.WriteByte(path[i])
	}
	b.WriteByte('"')
	return b.String()
}

// argv returns nil unless the template is plain words with the marker as a
// word of its own.
func argv(before, after, path string) []string {
	if strings.ContainsAny(before, shellMeta) || strings.ContainsAny(after, shellMeta) {
		return nil
	}
	if before != "" && !isSpace(before[len(before)-1]) {
		return nil
	}
	if after != "" && !isSpace(after[0]) {
		return nil
	}
	head := strings.Fields(before)
	if len(head) == 0 {
		return nil
	}
	out := make([]string, 0, len(head)+4)
	out = append(out, head...)
	out = append(out, path)
	out = append(out, strings.Fields(after)...)
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
