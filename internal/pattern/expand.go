package pattern

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// Expand returns the existing non-directory paths matching p, sorted and
// without duplicates. A missing root is an empty result, not an error.
// Symlinked directories are descended into within the pattern's depth, and
// paths are reported as spelled below the pattern's root, not as resolved.
func (p *Pattern) Expand() ([]string, error) {
	if p.literal {
		info, err := os.Stat(p.root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		if info.IsDir() {
			return nil, nil
		}
		return []string{p.root}, nil
	}

	info, err := os.Stat(p.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	w := &walker{p: p, onPath: make(map[dirID]bool)}
	if err := w.walk(p.root, 0); err != nil {
		return nil, err
	}
	sort.Strings(w.out)
	return dedupSorted(w.out), nil
}

// dirID identifies a directory independently of the links leading to it.
type dirID struct {
	dev, ino uint64
}

func statID(path string) (dirID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return dirID{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return dirID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}

type walker struct {
	p      *Pattern
	onPath map[dirID]bool
	out    []string
}

// walk collects the matches below dir, which sits depth segments below the
// root. A directory already on the current path is a link cycle and is not
// entered again.
func (w *walker) walk(dir string, depth int) error {
	id, err := statID(dir)
	if err != nil {
		return vanished(err)
	}
	if w.onPath[id] {
		return nil
	}
	w.onPath[id] = true
	defer delete(w.onPath, id)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return vanished(err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		isDir := e.IsDir()
		if e.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			isDir = info.IsDir()
		}
		if isDir {
			if w.p.deep || depth+1 < w.p.depth {
				if err := w.walk(path, depth+1); err != nil {
					return err
				}
			}
			continue
		}
		if _, ok := w.p.Match(path); ok {
			w.out = append(w.out, path)
		}
	}
	return nil
}

// vanished swallows errors for entries removed or hidden while walking.
func vanished(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil
	}
	return err
}

func dedupSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// ExpandAll expands every pattern and merges the results.
func ExpandAll(patterns []*Pattern) ([]string, error) {
	var all []string
	for _, p := range patterns {
		paths, err := p.Expand()
		if err != nil {
			return nil, err
		}
		all = append(all, paths...)
	}
	sort.Strings(all)
	return dedupSorted(all), nil
}
