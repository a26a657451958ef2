// Package config resolves the global settings shared by every command.
//
// Values are taken, highest precedence first, from command-line flags,
// SYSTRIGGER_* environment variables, an optional YAML file and built-in
// defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"systrigger/internal/logging"
)

const (
	EnvPrefix         = "SYSTRIGGER"
	DefaultConfigFile = "/etc/systrigger/config.yaml"

	DefaultDatabase      = "/var/lib/usysconf/paths"
	DefaultTimesDatabase = "/var/lib/usysconf/pathtimes"
	DefaultTriggerDir    = "/usr/share/usysconf/triggers"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds the resolved settings.
type Config struct {
	// Database is the trigger path database file.
	Database string `mapstructure:"database"`

	// TimesDatabase is the directory of the flat path-times index.
	TimesDatabase string `mapstructure:"times_database"`

	// TriggerDir holds the trigger definition files.
	TriggerDir string `mapstructure:"trigger_dir"`

	// Root is the system root inspected for environment detection and used
	// as the working directory of handlers.
	Root string `mapstructure:"root"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Database:      DefaultDatabase,
		TimesDatabase: DefaultTimesDatabase,
		TriggerDir:    DefaultTriggerDir,
		Root:          "/",
		LogLevel:      "info",
		LogFormat:     logging.FormatAuto,
	}
}

// flag name -> settings key
var flagKeys = map[string]string{
	"database":       "database",
	"times-database": "times_database",
	"trigger-dir":    "trigger_dir",
	"root":           "root",
	"log-level":      "log_level",
	"log-format":     "log_format",
}

// RegisterFlags adds the global flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.StringP("database", "d", d.Database, "path database file")
	flags.String("times-database", d.TimesDatabase, "path-times index directory")
	flags.StringP("trigger-dir", "t", d.TriggerDir, "directory of trigger definitions")
	flags.String("root", d.Root, "system root to inspect")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", d.LogFormat, "log format: auto, text, json")
	flags.String("config", "", "configuration file (default "+DefaultConfigFile+")")
}

// Load resolves the configuration from the flags registered by RegisterFlags.
//
// A missing file at the default location is ignored; a file named through
// --config or SYSTRIGGER_CONFIG must exist.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("database", d.Database)
	v.SetDefault("times_database", d.TimesDatabase)
	v.SetDefault("trigger_dir", d.TriggerDir)
	v.SetDefault("root", d.Root)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	file, explicit := DefaultConfigFile, false
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		file, explicit = f.Value.String(), true
	} else if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
		file, explicit = env, true
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalid, file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	required := []struct{ name, value string }{
		{"database", c.Database},
		{"times_database", c.TimesDatabase},
		{"trigger_dir", c.TriggerDir},
		{"root", c.Root},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalid, r.name)
		}
	}
	if c.Database == c.TimesDatabase {
		return fmt.Errorf("%w: database and times_database must differ", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}
