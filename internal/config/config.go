// Package config loads dodgesync settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, the environment
// (with a .env file as fallback), then command-line flags, which the CLI
// applies on top of the returned Config.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabase   = "DODGESYNC_DB"
	EnvRemote     = "DODGESYNC_REMOTE"
	EnvStatusAddr = "DODGESYNC_STATUS_ADDR"
	EnvLogLevel   = "DODGESYNC_LOG_LEVEL"
)

// ErrInvalid is returned when a config file does not match the schema.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.cue
var schemaSource string

// Config is the full set of settings.
type Config struct {
	Database string       `yaml:"database"`
	Remote   RemoteConfig `yaml:"remote"`
	Sync     SyncConfig   `yaml:"sync"`
	Status   StatusConfig `yaml:"status"`
	Log      LogConfig    `yaml:"log"`
}

// RemoteConfig points at the remote entity service.
type RemoteConfig struct {
	// URL of the service. Empty means permanently offline.
	URL           string   `yaml:"url"`
	Timeout       Duration `yaml:"timeout"`
	ProbeInterval Duration `yaml:"probe_interval"`
}

// SyncConfig tunes the background sync loop.
type SyncConfig struct {
	// RetryInterval re-runs a sync while the log is dirty. Zero disables it.
	RetryInterval Duration `yaml:"retry_interval"`
}

// StatusConfig controls the status HTTP surface of the watch daemon.
type StatusConfig struct {
	// Addr to listen on. Empty disables the surface.
	Addr string `yaml:"addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses a duration string such as "15s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: "dodgesync.db",
		Remote: RemoteConfig{
			Timeout:       Duration(15 * time.Second),
			ProbeInterval: Duration(10 * time.Second),
		},
		Sync: SyncConfig{
			RetryInterval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:      "warn",
			MaxSizeMB:  10,
			MaxAgeDays: 7,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema and overlays it on the defaults.
// name is used in error messages.
func Parse(name string, data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := validate(name, data); err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	return cfg, nil
}

// validate unifies the YAML document with the closed #Config definition, so
// unknown keys and wrongly typed values are both rejected.
func validate(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Environment returns a lookup over the process environment that falls back
// to the dotenv file at path. A missing file is not an error.
func Environment(path string) (LookupFunc, error) {
	vals, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vals[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	// An explicitly empty remote switches to offline-only.
	if v, ok := lookup(EnvRemote); ok {
		c.Remote.URL = v
	}
	if v, ok := lookup(EnvStatusAddr); ok {
		c.Status.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}
