package pathdb

// FileDiff classifies one path when an old FileSet is compared to a new one.
type FileDiff struct {
	// Value is the most recently known File: the new one when the path is
	// still present, the old one when it was removed.
	Value File

	// Modified is true when the path was never seen, its mtime changed, or it
	// was removed.
	Modified bool

	// Removed is true when the path is only present in the old set.
	Removed bool
}

// Diff pairs old against new and returns exactly one FileDiff per distinct
// path of either set.
//
// Entries for paths of new come first, in ascending order; they are followed
// by the paths only present in old, also in ascending order. Neither argument
// is modified.
func Diff(old, new FileSet) []FileDiff {
	out := make([]FileDiff, 0, new.Len()+old.Len())
	var removed []FileDiff

	// Both sets are sorted, so a single merge pass suffices.
	j := 0
	for _, nf := range new.files {
		for j < len(old.files) && old.files[j].Path < nf.Path {
			removed = append(removed, FileDiff{Value: old.files[j], Modified: true, Removed: true})
			j++
		}
		modified := true
		if j < len(old.files) && old.files[j].Path == nf.Path {
			modified = old.files[j].Mtime != nf.Mtime
			j++
		}
		out = append(out, FileDiff{Value: nf, Modified: modified})
	}
	for ; j < len(old.files); j++ {
		removed = append(removed, FileDiff{Value: old.files[j], Modified: true, Removed: true})
	}
	return append(out, removed...)
}

// Retained returns the set of non-removed values of diffs. It is what a
// caller commits back to the Store after a trigger ran.
func Retained(diffs []FileDiff) FileSet {
	var set FileSet
	for _, d := range diffs {
		if d.Removed {
			continue
		}
		set.Insert(d.Value)
	}
	return set
}

// RemovedPaths returns the paths of diffs flagged as removed.
func RemovedPaths(diffs []FileDiff) []string {
	var out []string
	for _, d := range diffs {
		if d.Removed {
			out = append(out, d.Value.Path)
		}
	}
	return out
}

// Outdated returns the paths that need their handlers run: every modified
// (including removed) path, or every path when force is set.
func Outdated(diffs []FileDiff, force bool) []string {
	var out []string
	for _, d := range diffs {
		if force || d.Modified {
			out = append(out, d.Value.Path)
		}
	}
	return out
}
