// Package cliconfig loads the deployctl CLI's orchestrator configuration,
// following h3ow3d-nlab/internal/manifest's strict-decode-then-validate
// shape (gopkg.in/yaml.v3 with Decoder.KnownFields(true)).
package cliconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the orchestrator's startup configuration, loaded from the
// file named by the DEPLOY_CONFIG environment variable (spec.md section
// 6 "Environment"). Every field has a workable zero-value default so the
// CLI runs with no config file at all.
type Config struct {
	// StorePath is the SQLite database path ("" or ":memory:" selects the
	// in-memory naive Store instead).
	StorePath string `yaml:"store_path"`

	// Engine selects the WorkflowEngine: "sync" (default), "durable"
	// (cschleiden/go-workflows, SQLite-backed), or "dbos" (DBOS Transact,
	// Postgres-backed via DBOSDatabaseURL).
	Engine string `yaml:"engine"`

	// DBOSDatabaseURL is the Postgres connection string used when
	// Engine == "dbos".
	DBOSDatabaseURL string `yaml:"dbos_database_url"`

	// LogLevel mirrors the LOG_LEVEL environment variable when the
	// config file sets it instead (env takes precedence).
	LogLevel string `yaml:"log_level"`
}

// Load reads Config from the path named by DEPLOY_CONFIG, if set, and
// overlays the LOG_LEVEL environment variable. A missing DEPLOY_CONFIG
// is not an error — Load returns the defaults.
func Load() (Config, error) {
	cfg := Config{Engine: "sync"}

	if path := os.Getenv("DEPLOY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		if cfg.Engine == "" {
			cfg.Engine = "sync"
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// SlogLevel parses LogLevel into a [slog.Level], defaulting to
// slog.LevelInfo for an empty or unrecognized value.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
