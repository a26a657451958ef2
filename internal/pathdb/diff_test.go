package pathdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_Classification(t *testing.T) {
	old := NewFileSet(
		File{Path: "/a", Mtime: 1},
		File{Path: "/b", Mtime: 2},
		File{Path: "/d", Mtime: 4},
	)
	cur := NewFileSet(
		File{Path: "/a", Mtime: 1},
		File{Path: "/b", Mtime: 3},
		File{Path: "/c", Mtime: 5},
	)

	got := Diff(old, cur)
	want := []FileDiff{
		{Value: File{Path: "/a", Mtime: 1}},
		{Value: File{Path: "/b", Mtime: 3}, Modified: true},
		{Value: File{Path: "/c", Mtime: 5}, Modified: true},
		{Value: File{Path: "/d", Mtime: 4}, Modified: true, Removed: true},
	}
	assert.Equal(t, want, got)
}

func TestDiff_OnePerDistinctPath(t *testing.T) {
	cases := []struct {
		name string
		old  FileSet
		cur  FileSet
		want int
	}{
		{name: "both empty", want: 0},
		{name: "only new", cur: NewFileSet(File{Path: "/x"}, File{Path: "/y"}), want: 2},
		{name: "only old", old: NewFileSet(File{Path: "/x"}), want: 1},
		{
			name: "overlap",
			old:  NewFileSet(File{Path: "/a"}, File{Path: "/m"}, File{Path: "/z"}),
			cur:  NewFileSet(File{Path: "/b"}, File{Path: "/m"}, File{Path: "/y"}),
			want: 5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			diffs := Diff(tc.old, tc.cur)
			require.Len(t, diffs, tc.want)
			seen := map[string]bool{}
			for _, d := range diffs {
				assert.False(t, seen[d.Value.Path], "duplicate %s", d.Value.Path)
				seen[d.Value.Path] = true
			}
		})
	}
}

func TestDiff_RemovedDrainedInOrderAfterNew(t *testing.T) {
	old := NewFileSet(File{Path: "/z"}, File{Path: "/a"}, File{Path: "/m"})
	cur := NewFileSet(File{Path: "/n"})

	diffs := Diff(old, cur)
	require.Len(t, diffs, 4)
	assert.Equal(t, "/n", diffs[0].Value.Path)
	assert.False(t, diffs[0].Removed)
	assert.Equal(t, []string{"/a", "/m", "/z"}, RemovedPaths(diffs))
}

func TestRetainedAndOutdated(t *testing.T) {
	old := NewFileSet(File{Path: "/keep", Mtime: 1}, File{Path: "/gone", Mtime: 1})
	cur := NewFileSet(File{Path: "/keep", Mtime: 1}, File{Path: "/new", Mtime: 9})
	diffs := Diff(old, cur)

	assert.Equal(t, []string{"/keep", "/new"}, Retained(diffs).Paths())
	assert.Equal(t, []string{"/new", "/gone"}, Outdated(diffs, false))
	assert.Equal(t, []string{"/keep", "/new", "/gone"}, Outdated(diffs, true))
}

func TestNewFileSet_FirstWins(t *testing.T) {
	set := NewFileSet(File{Path: "/p", Mtime: 1}, File{Path: "/p", Mtime: 2})
	require.Equal(t, 1, set.Len())
	f, ok := set.Get("/p")
	require.True(t, ok)
	assert.Equal(t, int64(1), f.Mtime)
}
