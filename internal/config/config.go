package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Workflow contains timing knobs for the engine and the stale-work watchdog.
type Workflow struct {
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
	StaleScanSchedule string `toml:"stale_scan_schedule"`
	ResolverCacheTTL  int    `toml:"resolver_cache_ttl"`
	LockTimeout       int    `toml:"lock_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	MaxSizeMB      int               `toml:"max_size_mb"`
	MaxBackups     int               `toml:"max_backups"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Redis contains configuration for the outcome report intake.
type Redis struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	ReportKey     string `toml:"report_key"`
	DeadLetterKey string `toml:"dead_letter_key"`
	BlockTimeout  int    `toml:"block_timeout"`
	MaxAttempts   int    `toml:"max_attempts"`
	RequeueDelay  int    `toml:"requeue_delay"`
}

// PipelineEdge declares one stage dependency.
type PipelineEdge struct {
	Parent    string `toml:"parent"`
	Dependent string `toml:"dependent"`
}

// Pipeline optionally replaces the built-in stage dependency graph.
type Pipeline struct {
	Edges []PipelineEdge `toml:"edges"`
}

// Config encapsulates all configuration values for recflow.
//
// Configuration sections by subsystem:
//   - Paths: database, lock and log directories
//   - Workflow: stale-work detection, resolver caching, lock waits
//   - Logging: log format, level, rotation
//   - Redis: outcome report intake and dead-letter list
//   - Pipeline: stage dependency graph override
//   - Defaults, Presets, Templates: layered processing options
type Config struct {
	Paths     Paths                     `toml:"paths"`
	Workflow  Workflow                  `toml:"workflow"`
	Logging   Logging                   `toml:"logging"`
	Redis     Redis                     `toml:"redis"`
	Pipeline  Pipeline                  `toml:"pipeline"`
	Defaults  map[string]any            `toml:"defaults"`
	Presets   map[string]map[string]any `toml:"presets"`
	Templates map[string]map[string]any `toml:"templates"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/recflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files next to the config and in the working
// directory. Variables already present in the environment win.
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if cwd, err := os.Getwd(); err == nil && filepath.Clean(cwd) != filepath.Clean(configDir) {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("recflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, lock and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.LockDir(), c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file holding recordings.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "recflow.db")
}

// LockDir returns the directory holding per-recording lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// ServeLockPath returns the lock file guarding a single serve process.
func (c *Config) ServeLockPath() string {
	return filepath.Join(c.Paths.LogDir, "recflow.lock")
}

// HeartbeatTimeout returns how long work may stay in progress before it is reported as stuck.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// ResolverCacheTTL returns the lifetime of a cached resolved config tree.
func (c *Config) ResolverCacheTTL() time.Duration {
	return time.Duration(c.Workflow.ResolverCacheTTL) * time.Second
}

// LockTimeout returns how long a mutation waits for a recording lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Workflow.LockTimeout) * time.Second
}

// RedisBlockTimeout returns the BLPOP wait used by the intake consumer.
func (c *Config) RedisBlockTimeout() time.Duration {
	return time.Duration(c.Redis.BlockTimeout) * time.Second
}

// RedisRequeueDelay returns the pause before a transient report is pushed back.
func (c *Config) RedisRequeueDelay() time.Duration {
	return time.Duration(c.Redis.RequeueDelay) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
