package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Store       StoreConfig       `yaml:"store"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Logger      LoggerConfig      `yaml:"logger"`
	Sink        SinkConfig        `yaml:"sink"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Decorations map[string]string `yaml:"decorations"`
	Schedule    []ScheduledQuery  `yaml:"schedule"`
}

type AgentConfig struct {
	// HostIdentifier tags every emitted record. Empty means use the
	// hostname, falling back to a generated UUID.
	HostIdentifier string `yaml:"host_identifier"`
	// Epoch marks the schedule generation. 0 means derive one from
	// the config load time; a change invalidates prior diff baselines.
	Epoch uint64 `yaml:"epoch"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "sqlite" (default), "postgres", or "memory"
	Path    string `yaml:"path"`    // sqlite database file
	DSN     string `yaml:"dsn"`     // postgres connection string
}

type ExecutorConfig struct {
	// DatabasePath is the SQLite database scheduled queries run against.
	DatabasePath string `yaml:"database_path"`
}

type LoggerConfig struct {
	// Numerics emits numeric row values as JSON numbers instead of strings.
	Numerics bool `yaml:"numerics"`
	// DecorationsTopLevel flattens decorations into each record.
	DecorationsTopLevel bool `yaml:"decorations_top_level"`
}

type SinkConfig struct {
	Type string `yaml:"type"` // "file" (default), "stdout", or "postgres"
	Path string `yaml:"path"` // results log file for the file sink
	DSN  string `yaml:"dsn"`  // postgres connection string
	// Buffer is the async buffer size; 0 disables buffering.
	Buffer int `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// ScheduledQuery names one recurring query.
type ScheduledQuery struct {
	Name     string        `yaml:"name"`
	Query    string        `yaml:"query"`
	Interval time.Duration `yaml:"interval"`
	// Mode is "differential" (default), "events", or "snapshot".
	Mode string `yaml:"mode"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "driftwatch.db",
		},
		Executor: ExecutorConfig{
			DatabasePath: "telemetry.db",
		},
		Logger: LoggerConfig{
			Numerics:            false,
			DecorationsTopLevel: false,
		},
		Sink: SinkConfig{
			Type:   "file",
			Path:   "results.log",
			Buffer: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9477",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite, postgres, or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite backend")
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres backend")
	}

	switch c.Sink.Type {
	case "file", "stdout", "postgres":
	default:
		return fmt.Errorf("sink.type must be file, stdout, or postgres, got %q", c.Sink.Type)
	}
	if c.Sink.Type == "file" && c.Sink.Path == "" {
		return fmt.Errorf("sink.path is required for the file sink")
	}
	if c.Sink.Type == "postgres" && c.Sink.DSN == "" {
		return fmt.Errorf("sink.dsn is required for the postgres sink")
	}

	seen := make(map[string]bool, len(c.Schedule))
	for i, sq := range c.Schedule {
		if sq.Name == "" {
			return fmt.Errorf("schedule[%d]: name is required", i)
		}
		if seen[sq.Name] {
			return fmt.Errorf("schedule: duplicate query name %q", sq.Name)
		}
		seen[sq.Name] = true
		if sq.Query == "" {
			return fmt.Errorf("schedule[%d] (%s): query is required", i, sq.Name)
		}
		if sq.Interval <= 0 {
			return fmt.Errorf("schedule[%d] (%s): interval must be positive", i, sq.Name)
		}
		switch sq.Mode {
		case "", "differential", "events", "snapshot":
		default:
			return fmt.Errorf("schedule[%d] (%s): mode must be differential, events, or snapshot, got %q", i, sq.Name, sq.Mode)
		}
	}

	if strings.Contains(c.Store.DSN, "sslmode=disable") || strings.Contains(c.Sink.DSN, "sslmode=disable") {
		log.Warn().Msg("DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// ResolveHostIdentifier returns the configured host identifier, the
// hostname, or a generated UUID, in that order of preference.
func (c *Config) ResolveHostIdentifier() string {
	if c.Agent.HostIdentifier != "" {
		return c.Agent.HostIdentifier
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	id := uuid.New().String()
	log.Warn().Str("host_identifier", id).Msg("hostname unavailable, using generated identifier")
	return id
}

// ResolveEpoch returns the configured epoch, or one derived from the
// current time when unset.
func (c *Config) ResolveEpoch() uint64 {
	if c.Agent.Epoch != 0 {
		return c.Agent.Epoch
	}
	return uint64(time.Now().Unix())
}
