package osenv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleInhibits(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		env  Env
		want bool
	}{
		{"default none", Rule{}, None, false},
		{"default container", Rule{}, Container, true},
		{"default live", Rule{}, Live, true},
		{"force container in container", Rule{Kind: Force, Envs: []Env{Container}}, Container, false},
		{"force container in live", Rule{Kind: Force, Envs: []Env{Container}}, Live, true},
		{"skip container in container", Rule{Kind: Skip, Envs: []Env{Container}}, Container, true},
		{"skip container in live", Rule{Kind: Skip, Envs: []Env{Container}}, Live, false},
		{"skip container outside", Rule{Kind: Skip, Envs: []Env{Container}}, None, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rule.Inhibits(tc.env))
		})
	}
}

func TestGate_DetectionErrorInhibitsNothing(t *testing.T) {
	g := NewGate(Container, errors.New("boom"))
	assert.Error(t, g.Err())
	assert.Equal(t, None, g.Env())
	assert.False(t, g.Inhibited(Rule{Kind: Skip, Envs: []Env{Container}}))

	g = NewGate(Container, nil)
	assert.True(t, g.Inhibited(Rule{Kind: Skip, Envs: []Env{Container}}))
}

func TestParseEnv(t *testing.T) {
	e, err := ParseEnv("Container")
	require.NoError(t, err)
	assert.Equal(t, Container, e)

	var live Env
	require.NoError(t, live.UnmarshalText([]byte("live")))
	assert.Equal(t, Live, live)

	_, err = ParseEnv("vm")
	require.Error(t, err)
}

// root/proc/1/root symlinked back to root itself is a plain host.
func fakeRoot(t *testing.T, initRoot func(root string) string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proc", "1"), 0o755))
	require.NoError(t, os.Symlink(initRoot(root), filepath.Join(root, rootFile)))
	return root
}

func TestDetectFromRoot(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		root := fakeRoot(t, func(root string) string { return root })
		env, err := DetectFromRoot(root)
		require.NoError(t, err)
		assert.Equal(t, None, env)
	})

	t.Run("live", func(t *testing.T) {
		root := fakeRoot(t, func(root string) string { return root })
		require.NoError(t, os.MkdirAll(filepath.Join(root, "run"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, liveFile), nil, 0o644))
		env, err := DetectFromRoot(root)
		require.NoError(t, err)
		assert.Equal(t, Live, env)
	})

	t.Run("container", func(t *testing.T) {
		other := t.TempDir()
		root := fakeRoot(t, func(string) string { return other })
		env, err := DetectFromRoot(root)
		require.NoError(t, err)
		assert.Equal(t, Container, env)
	})

	t.Run("missing proc", func(t *testing.T) {
		_, err := DetectFromRoot(t.TempDir())
		require.Error(t, err)
	})
}
