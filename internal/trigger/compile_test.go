package trigger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, def string) *Trigger {
	t.Helper()
	tr, err := Parse(strings.NewReader(def), "test.yaml")
	require.NoError(t, err)
	return tr
}

func TestCompile_EmptyOutdated(t *testing.T) {
	tr := mustParse(t, fontsYAML)
	assert.Empty(t, Compile(tr, nil))
}

func TestCompile_SubstitutesAndDedups(t *testing.T) {
	tr := mustParse(t, fontsYAML)
	got := Compile(tr, []string{
		"/usr/share/fonts/dejavu/b.ttf",
		"/usr/share/fonts/dejavu/a.ttf",
		"/usr/share/fonts/noto/c.ttf",
		"/etc/unrelated",
	})

	var lines []string
	for _, h := range got {
		assert.Equal(t, "fonts", h.Trigger)
		lines = append(lines, h.String())
	}
	assert.Equal(t, []string{
		"/usr/bin/fc-cache -f /usr/share/fonts/dejavu",
		"/usr/bin/fc-cache -f /usr/share/fonts/noto",
		"/usr/bin/touch /usr/share/fonts/dejavu/a.ttf.seen",
		"/usr/bin/touch /usr/share/fonts/dejavu/b.ttf.seen",
		"/usr/bin/touch /usr/share/fonts/noto/c.ttf.seen",
	}, lines)
}

func TestCompile_SharedCommandAcrossPatterns(t *testing.T) {
	tr := mustParse(t, `
name: ldconfig
paths:
  /etc/ld.so.conf:
    - run: /sbin/ldconfig
  /etc/ld.so.conf.d/*.conf:
    - run: /sbin/ldconfig
`)
	got := Compile(tr, []string{"/etc/ld.so.conf", "/etc/ld.so.conf.d/a.conf", "/etc/ld.so.conf.d/b.conf"})
	require.Len(t, got, 1)
	assert.Equal(t, CompiledHandler{Trigger: "ldconfig", Binary: "/sbin/ldconfig", Args: []string{}}, got[0])
}

func TestCompiledHandlerString_Quotes(t *testing.T) {
	h := CompiledHandler{Binary: "/bin/sh", Args: []string{"-c", "echo it's", ""}}
	assert.Equal(t, `/bin/sh -c 'echo it'\''s' ''`, h.String())
}
