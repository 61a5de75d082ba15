package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/trailguard-lab/project-trailguard/internal/verification"
)

// Config represents the top-level application config plus resolved sweep config.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Chain        ChainConfig        `koanf:"chain"`
	Verification VerificationConfig `koanf:"verification"`

	// SweepLoading is populated by Load after parsing sweep files.
	SweepLoading SweepLoadingConfig `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ChainConfig struct {
	// MaxAppendAttempts bounds the append retry loop when the session tail
	// moves between read and write.
	MaxAppendAttempts int `koanf:"max_append_attempts"`
}

type VerificationConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ScheduleDir string `koanf:"schedule_dir"`
	BatchSize   int    `koanf:"batch_size"`
	WorkerCount int    `koanf:"worker_count"`
}

type SweepLoadingConfig struct {
	ScheduleDir string
	Sweeps      []verification.Sweep
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Chain.MaxAppendAttempts <= 0 {
		return fmt.Errorf("chain.max_append_attempts must be > 0")
	}

	if c.Verification.BatchSize <= 0 {
		return fmt.Errorf("verification.batch_size must be > 0")
	}
	if c.Verification.WorkerCount <= 0 {
		return fmt.Errorf("verification.worker_count must be > 0")
	}
	if c.Verification.Enabled && strings.TrimSpace(c.Verification.ScheduleDir) == "" {
		return fmt.Errorf("verification.schedule_dir is required when verification is enabled")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates
// the verification sweep schedules.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_mb":   1,
		"server.mode":               "release",
		"database.type":             "postgres",
		"database.dsn":              "",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"chain.max_append_attempts": 3,
		"verification.enabled":      true,
		"verification.schedule_dir": "./config/sweeps",
		"verification.batch_size":   5000,
		"verification.worker_count": 4,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TRAILGUARD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TRAILGUARD_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Verification.Enabled {
		repo, err := verification.NewFileSystemSweepRepository(cfg.Verification.ScheduleDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load verification sweeps: %w", err)
		}
		cfg.SweepLoading = SweepLoadingConfig{
			ScheduleDir: cfg.Verification.ScheduleDir,
			Sweeps:      repo.GetSweeps(),
		}
	}

	return &cfg, nil
}
