package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calls struct {
	mu  sync.Mutex
	all [][]string
}

func (c *calls) run(_ context.Context, changed []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, changed)
	return nil
}

func (c *calls) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.all...)
}

func (c *calls) saw(path string) bool {
	for _, batch := range c.snapshot() {
		for _, p := range batch {
			if p == path {
				return true
			}
		}
	}
	return false
}

func start(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func TestWatch_InitialRunThenChanges(t *testing.T) {
	root := t.TempDir()
	c := &calls{}
	start(t, &Watcher{Roots: []string{root}, Debounce: 20 * time.Millisecond, Run: c.run})

	require.Eventually(t, func() bool { return len(c.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, c.snapshot()[0], "the first run carries no changes")

	target := filepath.Join(root, "a.ttf")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.Eventually(t, func() bool { return c.saw(target) }, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_FollowsNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	c := &calls{}
	start(t, &Watcher{Roots: []string{root}, Debounce: 20 * time.Millisecond, Run: c.run})
	require.Eventually(t, func() bool { return len(c.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	sub := filepath.Join(root, "hicolor")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// The new directory is watched asynchronously; keep creating files until
	// one of them is reported.
	i := 0
	require.Eventually(t, func() bool {
		p := filepath.Join(sub, fmt.Sprintf("f%d", i))
		i++
		_ = os.WriteFile(p, nil, 0o644)
		time.Sleep(30 * time.Millisecond)
		return c.saw(p)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_FollowsSymlinkedDirectories(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "usr", "lib")
	require.NoError(t, os.MkdirAll(target, 0o755))
	root := filepath.Join(base, "root")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "linked")))
	require.NoError(t, os.Symlink(root, filepath.Join(target, "back")))

	c := &calls{}
	start(t, &Watcher{Roots: []string{root}, Debounce: 20 * time.Millisecond, Run: c.run})
	require.Eventually(t, func() bool { return len(c.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(target, "libc.so"), nil, 0o644))
	want := filepath.Join(root, "linked", "libc.so")
	require.Eventually(t, func() bool { return c.saw(want) }, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_MissingRootIsPickedUp(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "fonts")
	c := &calls{}
	start(t, &Watcher{Roots: []string{root}, Debounce: 20 * time.Millisecond, Run: c.run})
	require.Eventually(t, func() bool { return len(c.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(parent, "unrelated"), nil, 0o644))
	require.NoError(t, os.Mkdir(root, 0o755))

	i := 0
	require.Eventually(t, func() bool {
		p := filepath.Join(root, fmt.Sprintf("f%d", i))
		i++
		_ = os.WriteFile(p, nil, 0o644)
		time.Sleep(30 * time.Millisecond)
		return c.saw(p)
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, c.saw(filepath.Join(parent, "unrelated")))
}

func TestWatch_IgnoredPaths(t *testing.T) {
	root := t.TempDir()
	c := &calls{}
	ignored := filepath.Join(root, "files.db")
	start(t, &Watcher{
		Roots:    []string{root},
		Debounce: 20 * time.Millisecond,
		Run:      c.run,
		Ignore:   func(p string) bool { return p == ignored },
	})
	require.Eventually(t, func() bool { return len(c.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(ignored, nil, 0o644))
	kept := filepath.Join(root, "kept")
	require.NoError(t, os.WriteFile(kept, nil, 0o644))
	require.Eventually(t, func() bool { return c.saw(kept) }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, c.saw(ignored))
}

func TestWatch_NilRun(t *testing.T) {
	require.Error(t, (&Watcher{}).Watch(context.Background()))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/usr/share", "/usr/share"))
	assert.True(t, within("/usr/share", "/usr/share/fonts/a"))
	assert.False(t, within("/usr/share", "/usr/shared"))
	assert.True(t, within("/", "/etc"))
}

func TestWatch_FirstRunErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	err := (&Watcher{
		Roots: []string{t.TempDir()},
		Run:   func(context.Context, []string) error { return boom },
	}).Watch(context.Background())
	require.ErrorIs(t, err, boom)
}
