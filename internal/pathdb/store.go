package pathdb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrFormat = errors.New("malformed path database")

	// ErrUnstorable is returned by Save for a trigger name or path the line
	// format cannot represent.
	ErrUnstorable = errors.New("cannot be stored in the path database")
)

// FormatError reports a structurally invalid database line.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: line %d: %s", ErrFormat.Error(), e.Line, e.Msg)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

func formatErrorf(line int, format string, args ...any) error {
	return &FormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Store maps trigger names to the FileSet each trigger last observed.
//
// Store is not safe for concurrent use; the engine mutates it from a single
// goroutine.
type Store struct {
	sets map[string]FileSet
}

// New returns an empty store.
func New() *Store {
	return &Store{sets: make(map[string]FileSet)}
}

// Load parses the line-oriented representation written by Save:
//
//	trigger-name
//	<TAB>/some/path:1700000000
//
// A path line before any trigger line, a line without a colon, or a
// non-integer mtime is a FormatError. Blank lines are ignored.
func Load(r io.Reader) (*Store, error) {
	s := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current string
	haveCurrent := false
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := strings.TrimRight(raw, " \t\r")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(raw, "\t") {
			current = line
			haveCurrent = true
			if _, ok := s.sets[current]; !ok {
				s.sets[current] = FileSet{}
			}
			continue
		}
		if !haveCurrent {
			return nil, formatErrorf(lineNo, "entry not associated to a trigger")
		}
		f, err := parseEntry(strings.TrimLeft(line, "\t"))
		if err != nil {
			return nil, formatErrorf(lineNo, "%v", err)
		}
		set := s.sets[current]
		set.Insert(f)
		s.sets[current] = set
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read path database: %w", err)
	}
	return s, nil
}

// The mtime is always the text after the last colon, so paths may contain colons.
func parseEntry(entry string) (File, error) {
	i := strings.LastIndexByte(entry, ':')
	if i < 0 {
		return File{}, fmt.Errorf("missing mtime in %q", entry)
	}
	path := entry[:i]
	if path == "" {
		return File{}, fmt.Errorf("empty path in %q", entry)
	}
	mtime, err := strconv.ParseInt(entry[i+1:], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("invalid mtime in %q: %w", entry, err)
	}
	return File{Path: path, Mtime: mtime}, nil
}

// Open reads the database at path. A missing file yields an empty store and
// no error; a corrupt one yields a FormatError.
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("open path database: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// TakeForDiff removes the stored set of name and hands it to the caller.
// The store has no entry for name until Commit is called.
func (s *Store) TakeForDiff(name string) FileSet {
	set := s.sets[name]
	delete(s.sets, name)
	return set
}

// Commit replaces the stored set of name.
func (s *Store) Commit(name string, set FileSet) {
	s.sets[name] = set
}

// Diff takes the stored set of name and compares it against current.
func (s *Store) Diff(name string, current FileSet) []FileDiff {
	return Diff(s.TakeForDiff(name), current)
}

// Get returns the stored set of name without removing it.
func (s *Store) Get(name string) (FileSet, bool) {
	set, ok := s.sets[name]
	return set, ok
}

// Names returns the stored trigger names in ascending order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds path in any trigger's set. Triggers are searched in name
// order and the first hit is returned.
func (s *Store) Lookup(path string) (File, bool) {
	for _, name := range s.Names() {
		if f, ok := s.sets[name].Get(path); ok {
			return f, true
		}
	}
	return File{}, false
}

// Save writes the store in trigger name order. Triggers whose set is empty
// are omitted. A name or path containing a line break fails with
// ErrUnstorable before anything after it is written.
func (s *Store) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range s.Names() {
		set := s.sets[name]
		if set.Len() == 0 {
			continue
		}
		if !storableName(name) {
			return fmt.Errorf("trigger name %q %w", name, ErrUnstorable)
		}
		if _, err := fmt.Fprintln(bw, name); err != nil {
			return err
		}
		for _, f := range set.files {
			if !Storable(f.Path) {
				return fmt.Errorf("path %q of %s %w", f.Path, name, ErrUnstorable)
			}
			if _, err := fmt.Fprintf(bw, "\t%s:%d\n", f.Path, f.Mtime); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func storableName(name string) bool {
	return Storable(name) && !strings.HasPrefix(name, "\t")
}

// SaveFile atomically replaces the database at path.
func (s *Store) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		return fmt.Errorf("encode path database: %w", err)
	}
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write path database: %w", err)
	}
	return nil
}
