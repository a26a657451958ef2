// Package trigger holds the trigger model, the loader for trigger definition
// files and the compiler turning outdated paths into concrete handlers.
package trigger

import (
	"systrigger/internal/osenv"
	"systrigger/internal/pattern"
)

// Handler is a command template. Binary and Args may reference ${path} and
// the captures of the pattern the handler belongs to.
type Handler struct {
	Binary string
	Args   []string
}

// PatternHandlers binds one pattern to the handlers run for its matches.
type PatternHandlers struct {
	Pattern  *pattern.Pattern
	Handlers []Handler
}

// Trigger is a loaded trigger definition. It is immutable after loading.
type Trigger struct {
	Name         string
	Description  string
	Dependencies []string
	Concurrent   bool
	Environment  osenv.Rule

	// Patterns is ordered by pattern text.
	Patterns []PatternHandlers

	// Source is the file the trigger was loaded from, if any.
	Source string
}

// Matches reports whether any of the trigger's patterns matches path.
func (t *Trigger) Matches(path string) bool {
	for _, ph := range t.Patterns {
		if _, ok := ph.Pattern.Match(path); ok {
			return true
		}
	}
	return false
}

// PatternList returns the trigger's patterns.
func (t *Trigger) PatternList() []*pattern.Pattern {
	out := make([]*pattern.Pattern, 0, len(t.Patterns))
	for _, ph := range t.Patterns {
		out = append(out, ph.Pattern)
	}
	return out
}

// Discover expands every pattern of t against the filesystem.
func (t *Trigger) Discover() ([]string, error) {
	return pattern.ExpandAll(t.PatternList())
}

// Index maps trigger names to triggers.
func Index(triggers []*Trigger) map[string]*Trigger {
	out := make(map[string]*Trigger, len(triggers))
	for _, t := range triggers {
		out[t.Name] = t
	}
	return out
}
