// Package pattern implements the path patterns used by trigger definitions.
//
// Syntax:
//
//	*            any run of characters except '/'
//	?            one character except '/'
//	[abc] [!a-z] a character class
//	**           any number of path segments ("**/" may also match nothing)
//	(name:glob)  a named capture of the text matched by glob
//	\c           the literal character c
//
// Everything else matches itself.
package pattern

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrSyntax = errors.New("invalid pattern")

// Reserved is the template variable always bound to the matched path. It
// cannot be used as a capture name.
const Reserved = "path"

var captureName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Pattern is a compiled path pattern.
type Pattern struct {
	raw      string
	re       *regexp.Regexp
	captures []string
	root     string
	literal  bool
	deep     bool
	depth    int // segments below root; meaningless when deep
}

func syntaxErrorf(raw, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrSyntax, raw, fmt.Sprintf(format, args...))
}

// Parse compiles raw.
func Parse(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, syntaxErrorf(raw, "empty")
	}

	var b strings.Builder
	b.WriteString("^")
	var captures []string
	inCapture := false
	literal := true
	deep := false
	metaAt := -1

	markMeta := func(i int) {
		literal = false
		if metaAt < 0 {
			metaAt = i
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\\':
			if i+1 >= len(raw) {
				return nil, syntaxErrorf(raw, "trailing escape")
			}
			markMeta(i)
			i++
			b.WriteString(regexp.QuoteMeta(raw[i : i+1]))
		case '*':
			markMeta(i)
			if i+1 < len(raw) && raw[i+1] == '*' {
				deep = true
				if i+2 < len(raw) && raw[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			markMeta(i)
			b.WriteString("[^/]")
		case '[':
			markMeta(i)
			end := strings.IndexByte(raw[i+1:], ']')
			if end < 0 {
				return nil, syntaxErrorf(raw, "unterminated character class")
			}
			class := raw[i+1 : i+1+end]
			if class == "" || class == "!" {
				return nil, syntaxErrorf(raw, "empty character class")
			}
			if class[0] == '!' {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '(':
			markMeta(i)
			if inCapture {
				return nil, syntaxErrorf(raw, "nested capture")
			}
			colon := strings.IndexByte(raw[i+1:], ':')
			if colon < 0 {
				return nil, syntaxErrorf(raw, "capture without name")
			}
			name := raw[i+1 : i+1+colon]
			if !captureName.MatchString(name) {
				return nil, syntaxErrorf(raw, "invalid capture name %q", name)
			}
			if name == Reserved {
				return nil, syntaxErrorf(raw, "capture name %q is reserved", name)
			}
			for _, existing := range captures {
				if existing == name {
					return nil, syntaxErrorf(raw, "duplicate capture %q", name)
				}
			}
			captures = append(captures, name)
			b.WriteString("(?P<" + name + ">")
			inCapture = true
			i += colon + 1
		case ')':
			if !inCapture {
				return nil, syntaxErrorf(raw, "unbalanced ')'")
			}
			b.WriteString(")")
			inCapture = false
		default:
			b.WriteString(regexp.QuoteMeta(raw[i : i+1]))
		}
	}
	if inCapture {
		return nil, syntaxErrorf(raw, "unterminated capture")
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, syntaxErrorf(raw, "%v", err)
	}

	p := &Pattern{
		raw:      raw,
		re:       re,
		captures: captures,
		literal:  literal,
		deep:     deep,
	}
	if literal {
		p.root = filepath.Clean(raw)
		return p, nil
	}

	prefix := raw[:metaAt]
	slash := strings.LastIndexByte(prefix, '/')
	switch {
	case slash < 0:
		p.root = "."
	case slash == 0:
		p.root = "/"
	default:
		p.root = prefix[:slash]
	}
	p.depth = strings.Count(raw[slash+1:], "/") + 1
	return p, nil
}

// MustParse is Parse for patterns known to be valid.
func MustParse(raw string) *Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }

// Captures returns the capture names in declaration order.
func (p *Pattern) Captures() []string {
	out := make([]string, len(p.captures))
	copy(out, p.captures)
	return out
}

// Root is the longest literal directory prefix. Every match lies below it.
func (p *Pattern) Root() string { return p.root }

// Match reports whether path matches and returns the captured values.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(p.captures))
	for i, name := range p.re.SubexpNames() {
		if name != "" {
			vars[name] = m[i]
		}
	}
	return vars, true
}
