// Package config loads and validates the corpusd configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/corpus/api"
	"github.com/hazyhaar/corpus/cycle"
	"github.com/hazyhaar/corpus/docpipe"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/fsscan"
	"github.com/hazyhaar/corpus/ingest"
)

// Config is the full corpusd configuration.
type Config struct {
	// Root is the monitored directory tree.
	Root string `yaml:"root"`

	// DBPath is the SQLite file holding registry and chunk store.
	DBPath string `yaml:"db_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Scan     fsscan.Options  `yaml:"scan"`
	Cycle    cycle.Config    `yaml:"cycle"`
	Ingest   ingest.Config   `yaml:"ingest"`
	Embedder embedder.Config `yaml:"embedder"`
	API      api.Config      `yaml:"api"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Root:     "data",
		DBPath:   "db/corpus.db",
		LogLevel: "info",
		Scan: fsscan.Options{
			Extensions: docpipe.SupportedExtensions(),
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.propagate()
	return cfg, cfg.Validate()
}

// propagate copies the top-level root into the sub-configs that need it.
func (c *Config) propagate() {
	if c.Cycle.Root == "" {
		c.Cycle.Root = c.Root
	}
	if c.Ingest.Root == "" {
		c.Ingest.Root = c.Root
	}
}

// Validate checks required fields and value sanity.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn, or error)", c.LogLevel)
	}
	if c.Scan.MinSize < 0 {
		return fmt.Errorf("scan.min_size must be >= 0")
	}
	if c.Scan.MaxSize > 0 && c.Scan.MaxSize < c.Scan.MinSize {
		return fmt.Errorf("scan.max_size %d below scan.min_size %d", c.Scan.MaxSize, c.Scan.MinSize)
	}
	if c.Ingest.Chunking.OverlapTokens < 0 {
		return fmt.Errorf("ingest.chunking.overlap_tokens must be >= 0")
	}
	if (c.API.AuthUser == "") != (c.API.AuthHash == "") {
		return fmt.Errorf("api.auth_user and api.auth_hash must be set together")
	}
	return nil
}

// SlogLevel maps LogLevel to its slog value.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
