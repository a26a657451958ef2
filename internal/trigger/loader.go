package trigger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"systrigger/internal/osenv"
	"systrigger/internal/pattern"
)

var ErrFormat = errors.New("malformed trigger definition")

// LoadError reports a definition file that could not be loaded.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

var (
	validName   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
	templateVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

type definition struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	After       []string                `yaml:"after"`
	Concurrent  bool                    `yaml:"concurrent"`
	Environment *environmentDefinition  `yaml:"environment"`
	Paths       map[string][]handlerDef `yaml:"paths"`
}

type environmentDefinition struct {
	Skip  []osenv.Env `yaml:"skip"`
	Force []osenv.Env `yaml:"force"`
}

type handlerDef struct {
	Run    string   `yaml:"run"`
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// Parse decodes one trigger definition. Unknown keys are rejected.
func Parse(r io.Reader, source string) (*Trigger, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{File: source, Err: formatErrorf("empty definition")}
		}
		return nil, &LoadError{File: source, Err: formatErrorf("%v", err)}
	}

	t, err := def.build()
	if err != nil {
		return nil, &LoadError{File: source, Err: err}
	}
	t.Source = source
	return t, nil
}

func (def *definition) build() (*Trigger, error) {
	if !validName.MatchString(def.Name) {
		return nil, formatErrorf("invalid trigger name %q", def.Name)
	}
	t := &Trigger{
		Name:         def.Name,
		Description:  strings.TrimSpace(def.Description),
		Dependencies: append([]string(nil), def.After...),
		Concurrent:   def.Concurrent,
	}

	if env := def.Environment; env != nil {
		switch {
		case env.Skip != nil && env.Force != nil:
			return nil, formatErrorf("environment: skip and force are mutually exclusive")
		case env.Skip != nil:
			t.Environment = osenv.Rule{Kind: osenv.Skip, Envs: env.Skip}
		default:
			t.Environment = osenv.Rule{Kind: osenv.Force, Envs: env.Force}
		}
	}

	if len(def.Paths) == 0 {
		return nil, formatErrorf("no paths declared")
	}
	raws := make([]string, 0, len(def.Paths))
	for raw := range def.Paths {
		raws = append(raws, raw)
	}
	sort.Strings(raws)

	for _, raw := range raws {
		p, err := pattern.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		defs := def.Paths[raw]
		if len(defs) == 0 {
			return nil, formatErrorf("pattern %q has no handlers", raw)
		}
		ph := PatternHandlers{Pattern: p}
		for i, hd := range defs {
			h, err := hd.build()
			if err != nil {
				return nil, formatErrorf("pattern %q handler %d: %v", raw, i, err)
			}
			if err := checkVariables(h, p); err != nil {
				return nil, formatErrorf("pattern %q handler %d: %v", raw, i, err)
			}
			ph.Handlers = append(ph.Handlers, h)
		}
		t.Patterns = append(t.Patterns, ph)
	}
	return t, nil
}

func (hd handlerDef) build() (Handler, error) {
	switch {
	case hd.Run != "" && hd.Binary != "":
		return Handler{}, errors.New("run and binary are mutually exclusive")
	case hd.Run != "":
		if len(hd.Args) > 0 {
			return Handler{}, errors.New("args require binary")
		}
		argv, err := shlex.Split(hd.Run)
		if err != nil {
			return Handler{}, fmt.Errorf("run: %w", err)
		}
		if len(argv) == 0 {
			return Handler{}, errors.New("run is empty")
		}
		return Handler{Binary: argv[0], Args: argv[1:]}, nil
	case hd.Binary != "":
		return Handler{Binary: hd.Binary, Args: append([]string(nil), hd.Args...)}, nil
	default:
		return Handler{}, errors.New("one of run or binary is required")
	}
}

func checkVariables(h Handler, p *pattern.Pattern) error {
	known := map[string]bool{pattern.Reserved: true}
	for _, c := range p.Captures() {
		known[c] = true
	}
	for _, field := range append([]string{h.Binary}, h.Args...) {
		for _, m := range templateVar.FindAllStringSubmatch(field, -1) {
			if !known[m[1]] {
				return fmt.Errorf("undeclared variable ${%s}", m[1])
			}
		}
	}
	return nil
}

// LoadFile parses the definition stored at path.
func LoadFile(path string) (*Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Err: err}
	}
	return Parse(bytes.NewReader(data), path)
}

// LoadDir loads every *.yaml and *.yml file directly inside dir, in lexical
// file name order. Trigger names must be unique across files.
func LoadDir(dir string) ([]*Trigger, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{File: dir, Err: err}
	}

	var out []*Trigger
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}
		path := filepath.Join(dir, e.Name())
		t, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[t.Name]; dup {
			return nil, &LoadError{File: path, Err: formatErrorf("trigger %q already defined in %s", t.Name, prev)}
		}
		seen[t.Name] = path
		out = append(out, t)
	}
	return out, nil
}
