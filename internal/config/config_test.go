package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"database: /from/file/paths\ntrigger_dir: /from/file/triggers\nlog_level: debug\n"), 0o644))
	t.Setenv("SYSTRIGGER_TRIGGER_DIR", "/from/env/triggers")
	t.Setenv("SYSTRIGGER_ROOT", "/from/env/root")

	cfg, err := Load(newFlags(t, "--config", file, "--root", "/from/flag/root"))
	require.NoError(t, err)

	assert.Equal(t, "/from/file/paths", cfg.Database)
	assert.Equal(t, "/from/env/triggers", cfg.TriggerDir)
	assert.Equal(t, "/from/flag/root", cfg.Root)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultTimesDatabase, cfg.TimesDatabase)
}

func TestLoad_ShortFlags(t *testing.T) {
	cfg, err := Load(newFlags(t, "-d", "/tmp/db", "-t", "/tmp/triggers"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/db", cfg.Database)
	assert.Equal(t, "/tmp/triggers", cfg.TriggerDir)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(newFlags(t, "--log-level", "loud"))
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Load(newFlags(t, "--log-format", "xml"))
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Load(newFlags(t, "--database", ""))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate_DistinctStores(t *testing.T) {
	cfg := Defaults()
	cfg.TimesDatabase = cfg.Database
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalid))
}
