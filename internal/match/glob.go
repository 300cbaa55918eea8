package match

import (
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/gobwas/glob"
)

// globMatcher tests a full path against a compiled shell glob.
type globMatcher interface {
	MatchString(s string) (bool, error)
}

type gobwasGlob struct{ g glob.Glob }

func (m gobwasGlob) MatchString(s string) (bool, error) { return m.g.Match(s), nil }

type globTokKind int

const (
	tokLit globTokKind = iota
	tokStar
	tokAny
	tokClass
)

type bracket struct {
	negate bool
	chars  []rune
	ranges [][2]rune
}

type globTok struct {
	kind  globTokKind
	lit   rune
	class *bracket
}

// parseGlob reads a pattern with fnmatch(3) rules and no flags: * and ?
// cross '/', a backslash quotes the next character, a '[' without a closing
// ']' is literal, and braces and commas carry no meaning.
func parseGlob(expr string) []globTok {
	rs := []rune(expr)
	var toks []globTok
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			toks = append(toks, globTok{kind: tokStar})
		case '?':
			toks = append(toks, globTok{kind: tokAny})
		case '\\':
			if i+1 < len(rs) {
				i++
			}
			toks = append(toks, globTok{kind: tokLit, lit: rs[i]})
		case '[':
			b, end := parseBracket(rs, i)
			if b == nil {
				toks = append(toks, globTok{kind: tokLit, lit: r})
				continue
			}
			toks = append(toks, globTok{kind: tokClass, class: b})
			i = end
		default:
			toks = append(toks, globTok{kind: tokLit, lit: r})
		}
	}
	return toks
}

// parseBracket parses the class opening at rs[start]. It returns nil when
// the class is never closed.
func parseBracket(rs []rune, start int) (*bracket, int) {
	b := &bracket{}
	i := start + 1
	if i < len(rs) && (rs[i] == '!' || rs[i] == '^') {
		b.negate = true
		i++
	}
	first := true
	for ; i < len(rs); i++ {
		c := rs[i]
		if c == ']' && !first {
			return b, i
		}
		first = false
		if c == '\\' && i+1 < len(rs) {
			i++
			c = rs[i]
		}
		if i+2 < len(rs) && rs[i+1] == '-' && rs[i+2] != ']' {
			hi := rs[i+2]
			i += 2
			if hi == '\\' && i+1 < len(rs) {
				i++
				hi = rs[i]
			}
			b.ranges = append(b.ranges, [2]rune{c, hi})
			continue
		}
		b.chars = append(b.chars, c)
	}
	return nil, 0
}

// compileGlob prefers gobwas/glob and falls back to an anchored regexp2
// expression for bracket expressions gobwas cannot state: gobwas classes
// hold either one range or one list of characters.
func compileGlob(expr string) (globMatcher, error) {
	toks := parseGlob(expr)
	if src, ok := gobwasSyntax(toks); ok {
		g, err := glob.Compile(src)
		if err == nil {
			return gobwasGlob{g}, nil
		}
	}
	re, err := regexp2.Compile(regexSyntax(toks), regexp2.Singleline)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	return re, nil
}

const gobwasSpecial = `*?[]{},\`

func gobwasSyntax(toks []globTok) (string, bool) {
	var b strings.Builder
	for _, t := range toks {
		switch t.kind {
		case tokStar:
			b.WriteByte('*')
		case tokAny:
			b.WriteByte('?')
		case tokLit:
			if strings.ContainsRune(gobwasSpecial, t.lit) {
				b.WriteByte('\\')
			}
			b.WriteRune(t.lit)
		case tokClass:
			if !gobwasClass(&b, t.class) {
				return "", false
			}
		}
	}
	return b.String(), true
}

// gobwasClass writes c in gobwas syntax. Inside a class gobwas reads the
// first character raw and treats a following '-' as a range, so a list is
// only expressible when it can start with an ordinary character.
func gobwasClass(b *strings.Builder, c *bracket) bool {
	plain := func(r rune) bool { return !strings.ContainsRune(`\]-!`, r) }
	b.WriteByte('[')
	if c.negate {
		b.WriteByte('!')
	}
	switch {
	case len(c.ranges) == 1 && len(c.chars) == 0:
		lo, hi := c.ranges[0][0], c.ranges[0][1]
		if !plain(lo) || hi == ']' || lo > hi {
			return false
		}
		b.WriteRune(lo)
		b.WriteByte('-')
		b.WriteRune(hi)
	case len(c.ranges) == 0 && len(c.chars) > 0:
		lead := -1
		for i, r := range c.chars {
			if plain(r) {
				lead = i
				break
			}
		}
		if lead < 0 {
			return false
		}
		b.WriteRune(c.chars[lead])
		for i, r := range c.chars {
			if i == lead {
				continue
			}
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	default:
		return false
	}
	b.WriteByte(']')
	return true
}

func regexSyntax(toks []globTok) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, t := range toks {
		switch t.kind {
		case tokStar:
			b.WriteString(".*")
		case tokAny:
			b.WriteByte('.')
		case tokLit:
			b.WriteString(regexp2.Escape(string(t.lit)))
		case tokClass:
			b.WriteByte('[')
			if t.class.negate {
				b.WriteByte('^')
			}
			for _, r := range t.class.chars {
				writeClassRune(&b, r)
			}
			for _, rg := range t.class.ranges {
				writeClassRune(&b, rg[0])
				b.WriteByte('-')
				writeClassRune(&b, rg[1])
			}
			b.WriteByte(']')
		}
	}
	b.WriteByte('$')
	return b.String()
}

func writeClassRune(b *strings.Builder, r rune) {
	if strings.ContainsRune(`\]-^[`, r) {
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}
