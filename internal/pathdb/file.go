// Package pathdb is the durable record of which paths each trigger last observed.
//
// The database maps a trigger name to a FileSet: the paths the trigger's
// patterns expanded to on its last run, each with the modification time seen
// at that point. A fresh expansion is compared against the stored set with
// Diff to find out which paths are outdated.
package pathdb

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// File is a path together with its last-seen modification time.
//
// Identity and ordering are defined by Path alone; Mtime is metadata.
type File struct {
	Path  string
	Mtime int64 // seconds since the Unix epoch
}

// FileSet is an ordered set of File values keyed by path.
//
// The zero value is an empty set ready to use.
type FileSet struct {
	files []File // sorted by Path, unique
}

// NewFileSet builds a set from files. When a path appears more than once the
// first occurrence wins.
func NewFileSet(files ...File) FileSet {
	var s FileSet
	for _, f := range files {
		s.Insert(f)
	}
	return s
}

// Len returns the number of files in the set.
func (s FileSet) Len() int { return len(s.files) }

// Files returns the files in ascending path order.
func (s FileSet) Files() []File {
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}

// Paths returns the paths in ascending order.
func (s FileSet) Paths() []string {
	out := make([]string, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.Path)
	}
	return out
}

func (s FileSet) search(path string) (int, bool) {
	i := sort.Search(len(s.files), func(i int) bool { return s.files[i].Path >= path })
	return i, i < len(s.files) && s.files[i].Path == path
}

// Get returns the file stored under path.
func (s FileSet) Get(path string) (File, bool) {
	i, ok := s.search(path)
	if !ok {
		return File{}, false
	}
	return s.files[i], true
}

// Insert adds f unless its path is already present. It reports whether the
// set changed.
func (s *FileSet) Insert(f File) bool {
	i, ok := s.search(f.Path)
	if ok {
		return false
	}
	s.files = append(s.files, File{})
	copy(s.files[i+1:], s.files[i:])
	s.files[i] = f
	return true
}

// Mtime returns the modification time of path in whole seconds since the
// epoch. Symlinks are followed. Times before the epoch are reported as 0.
func Mtime(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	secs := info.ModTime().Unix()
	if secs < 0 {
		return 0, nil
	}
	return secs, nil
}

// Storable reports whether path can be written to the line-oriented
// database. A line break inside a path would split its entry.
func Storable(path string) bool {
	return path != "" && !strings.ContainsAny(path, "\n\r")
}

// Snapshot stats every path and returns the resulting set.
//
// Paths that are not Storable, or that disappeared between discovery and the
// stat, are left out; any other stat failure aborts the snapshot.
func Snapshot(paths []string) (FileSet, error) {
	var set FileSet
	for _, p := range paths {
		if !Storable(p) {
			continue
		}
		mtime, err := Mtime(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return FileSet{}, err
		}
		set.Insert(File{Path: p, Mtime: mtime})
	}
	return set, nil
}
