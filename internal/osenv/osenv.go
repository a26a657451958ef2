// Package osenv detects the kind of root the process is running in and
// decides whether a trigger's environment rule inhibits it there.
package osenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Env is the detected execution environment.
type Env int

const (
	None Env = iota
	Container
	Live
)

const (
	rootFile = "proc/1/root"
	liveFile = "run/livedev"
)

func (e Env) String() string {
	switch e {
	case None:
		return "none"
	case Container:
		return "container"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("Env(%d)", int(e))
	}
}

// ParseEnv parses the tag used in trigger definitions.
func ParseEnv(s string) (Env, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "container":
		return Container, nil
	case "live":
		return Live, nil
	default:
		return None, fmt.Errorf("unknown environment %q (want container or live)", s)
	}
}

func (e *Env) UnmarshalText(text []byte) error {
	v, err := ParseEnv(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (e Env) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Detect inspects the real root.
func Detect() (Env, error) {
	return DetectFromRoot("/")
}

// DetectFromRoot inspects the filesystem mounted at root. The result is
// Container when root and root/proc/1/root differ by device or inode, Live
// when root/run/livedev exists, and None otherwise.
func DetectFromRoot(root string) (Env, error) {
	var self, init unix.Stat_t
	if err := unix.Stat(root, &self); err != nil {
		return None, fmt.Errorf("stat %s: %w", root, err)
	}
	initRoot := filepath.Join(root, rootFile)
	if err := unix.Stat(initRoot, &init); err != nil {
		return None, fmt.Errorf("stat %s: %w", initRoot, err)
	}
	if self.Dev != init.Dev || self.Ino != init.Ino {
		return Container, nil
	}

	if _, err := os.Stat(filepath.Join(root, liveFile)); err == nil {
		return Live, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return None, fmt.Errorf("stat live marker: %w", err)
	}
	return None, nil
}
