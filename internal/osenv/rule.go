package osenv

import (
	"fmt"
	"strings"
)

// RuleKind selects how a Rule's environments are interpreted.
type RuleKind int

const (
	// Force lists the special environments the trigger is still allowed to
	// run in. With no environments the trigger only runs outside special ones.
	Force RuleKind = iota
	// Skip lists the environments the trigger must not run in.
	Skip
)

func (k RuleKind) String() string {
	if k == Skip {
		return "skip"
	}
	return "force"
}

// Rule is a trigger's environment rule. The zero value is Force with no
// environments.
type Rule struct {
	Kind RuleKind
	Envs []Env
}

func (r Rule) has(env Env) bool {
	for _, e := range r.Envs {
		if e == env {
			return true
		}
	}
	return false
}

// Inhibits reports whether a trigger carrying r must not run in env. It has
// no side effects.
func (r Rule) Inhibits(env Env) bool {
	switch r.Kind {
	case Skip:
		return r.has(env)
	default:
		return env != None && !r.has(env)
	}
}

func (r Rule) String() string {
	tags := make([]string, 0, len(r.Envs))
	for _, e := range r.Envs {
		tags = append(tags, e.String())
	}
	return fmt.Sprintf("%s[%s]", r.Kind, strings.Join(tags, ","))
}

// Gate holds the environment detected for one invocation.
type Gate struct {
	env Env
	err error
}

// NewGate wraps a detection result. When err is non-nil the gate inhibits
// nothing.
func NewGate(env Env, err error) Gate {
	if err != nil {
		return Gate{env: None, err: err}
	}
	return Gate{env: env}
}

// Env returns the detected environment.
func (g Gate) Env() Env { return g.env }

// Err returns the detection error, if any.
func (g Gate) Err() error { return g.err }

// Inhibited reports whether rule suppresses a trigger in this environment.
func (g Gate) Inhibited(rule Rule) bool {
	if g.err != nil {
		return false
	}
	return rule.Inhibits(g.env)
}
