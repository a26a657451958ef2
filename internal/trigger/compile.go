package trigger

import (
	"sort"
	"strings"

	"systrigger/internal/pattern"
)

// CompiledHandler is a fully substituted command ready to spawn.
type CompiledHandler struct {
	Trigger string
	Binary  string
	Args    []string
}

// String renders the command line, quoting arguments that need it. It is the
// identity used for ordering and deduplication.
func (h CompiledHandler) String() string {
	parts := make([]string, 0, len(h.Args)+1)
	parts = append(parts, quote(h.Binary))
	for _, a := range h.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' || r == '=' || r == ':' || r == ',' || r == '+' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Compile substitutes every outdated path into the handlers of each pattern
// it matches. Identical command lines collapse into one and the result is
// ordered by command line. No outdated paths means no handlers.
func Compile(t *Trigger, outdated []string) []CompiledHandler {
	if len(outdated) == 0 {
		return nil
	}
	byText := make(map[string]CompiledHandler)
	for _, ph := range t.Patterns {
		for _, path := range outdated {
			vars, ok := ph.Pattern.Match(path)
			if !ok {
				continue
			}
			vars[pattern.Reserved] = path
			for _, h := range ph.Handlers {
				ch := CompiledHandler{
					Trigger: t.Name,
					Binary:  substitute(h.Binary, vars),
					Args:    make([]string, 0, len(h.Args)),
				}
				for _, a := range h.Args {
					ch.Args = append(ch.Args, substitute(a, vars))
				}
				key := ch.String()
				if _, dup := byText[key]; !dup {
					byText[key] = ch
				}
			}
		}
	}

	keys := make([]string, 0, len(byText))
	for k := range byText {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CompiledHandler, 0, len(keys))
	for _, k := range keys {
		out = append(out, byText[k])
	}
	return out
}

func substitute(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return templateVar.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
