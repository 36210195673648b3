// Package config loads strata settings from defaults, a TOML file and
// environment variables. CLI flags are applied on top by the caller.
//
// Priority: flags > env vars > TOML file > defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/lifecycle"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
)

// DefaultPath is the config file read when none is given explicitly.
const DefaultPath = "strata.toml"

// Config holds all strata settings.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Kind   string `toml:"kind"`   // "file", "memory", "postgres"
	Path   string `toml:"path"`   // SQLite file path
	URL    string `toml:"url"`    // PostgreSQL connection URL
	Driver string `toml:"driver"` // "sqlite3" (cgo) or "sqlite" (pure Go)
	Schema string `toml:"schema"` // CUE file or directory
}

// PipelineConfig tunes the operation chain.
type PipelineConfig struct {
	ScratchPolicy string `toml:"scratch_policy"` // "per-write", "shared"
	AsyncOpen     bool   `toml:"async_open"`
}

// LifecycleConfig controls the forced flush on process signals.
type LifecycleConfig struct {
	Enabled         bool     `toml:"enabled"`
	ProtectedWindow Duration `toml:"protected_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "text", "json"
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Default returns a Config with all default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Kind:   string(store.KindFile),
			Path:   "strata.db",
			Driver: string(store.DriverSQLite3),
		},
		Pipeline: PipelineConfig{
			ScratchPolicy: dal.ScratchPerWrite.String(),
		},
		Lifecycle: LifecycleConfig{
			Enabled:         true,
			ProtectedWindow: Duration(lifecycle.DefaultProtectedWindow),
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the TOML file at path and the
// environment. An empty path reads DefaultPath if it exists; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadTOML(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML overlays the TOML file at path. Unknown keys are an error.
func (c *Config) loadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STRATA_STORE_KIND"); ok && v != "" {
		c.Store.Kind = v
	}
	if v, ok := lookup("STRATA_STORE_PATH"); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup("STRATA_STORE_URL"); ok && v != "" {
		c.Store.URL = v
	}
	if v, ok := lookup("STRATA_STORE_DRIVER"); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup("STRATA_SCHEMA"); ok && v != "" {
		c.Store.Schema = v
	}
	if v, ok := lookup("STRATA_SCRATCH_POLICY"); ok && v != "" {
		c.Pipeline.ScratchPolicy = v
	}
	if v, ok := lookup("STRATA_ASYNC_OPEN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STRATA_ASYNC_OPEN: %w", err)
		}
		c.Pipeline.AsyncOpen = b
	}
	if v, ok := lookup("STRATA_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("STRATA_LOG_FORMAT"); ok && v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch store.Kind(c.Store.Kind) {
	case store.KindFile:
		if c.Store.Path == "" {
			return errors.New("store.path is required for kind \"file\"")
		}
	case store.KindMemory:
	case store.KindPostgres:
		if c.Store.URL == "" {
			return errors.New("store.url is required for kind \"postgres\"")
		}
	default:
		return fmt.Errorf("store.kind %q: want file, memory or postgres", c.Store.Kind)
	}

	switch store.Driver(c.Store.Driver) {
	case "", store.DriverSQLite3, store.DriverModernc:
	default:
		return fmt.Errorf("store.driver %q: want sqlite3 or sqlite", c.Store.Driver)
	}

	if _, err := dal.ParseScratchPolicy(c.Pipeline.ScratchPolicy); err != nil {
		return fmt.Errorf("pipeline.scratch_policy: %w", err)
	}
	if c.Lifecycle.ProtectedWindow < 0 {
		return errors.New("lifecycle.protected_window must not be negative")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q: want text or json", c.Logging.Format)
	}
	return nil
}

// Descriptor builds the store descriptor, compiling the schema if one
// is configured.
func (c *Config) Descriptor() (store.Descriptor, error) {
	var s *schema.Schema
	if c.Store.Schema != "" {
		var err error
		s, err = schema.Load(c.Store.Schema)
		if err != nil {
			return store.Descriptor{}, err
		}
	}

	var desc store.Descriptor
	switch store.Kind(c.Store.Kind) {
	case store.KindMemory:
		desc = store.Memory(s)
	case store.KindPostgres:
		desc = store.Postgres(c.Store.URL, s)
	default:
		desc = store.File(c.Store.Path, s)
	}
	if desc.Kind != store.KindPostgres {
		desc.Driver = store.Driver(c.Store.Driver)
	}
	return desc, desc.Validate()
}

// ServiceOptions returns the dal options implied by the pipeline
// settings. Lifecycle wiring is left to the caller, which owns the host.
func (c *Config) ServiceOptions(logger *slog.Logger) ([]dal.Option, error) {
	policy, err := dal.ParseScratchPolicy(c.Pipeline.ScratchPolicy)
	if err != nil {
		return nil, err
	}
	opts := []dal.Option{dal.WithScratchPolicy(policy), dal.WithLogger(logger)}
	if c.Pipeline.AsyncOpen {
		opts = append(opts, dal.WithAsyncOpen(nil))
	}
	return opts, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Encode writes the config as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
