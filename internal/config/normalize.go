package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeLogging()
	c.normalizeRedis()
	c.normalizePipeline()
	c.normalizeLayers()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("RECFLOW_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.StaleScanSchedule = strings.TrimSpace(c.Workflow.StaleScanSchedule)
	if c.Workflow.StaleScanSchedule == "" {
		c.Workflow.StaleScanSchedule = defaultStaleScanSchedule
	}
	if c.Workflow.ResolverCacheTTL < 0 {
		c.Workflow.ResolverCacheTTL = 0
	}
	if c.Workflow.LockTimeout <= 0 {
		c.Workflow.LockTimeout = defaultLockTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("RECFLOW_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if len(c.Logging.StageOverrides) > 0 {
		normalized := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			key := strings.ToLower(strings.TrimSpace(stage))
			if key == "" {
				continue
			}
			normalized[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.StageOverrides = normalized
	}
}

func (c *Config) normalizeRedis() {
	if value, ok := os.LookupEnv("RECFLOW_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("RECFLOW_REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
	if value, ok := os.LookupEnv("RECFLOW_REDIS_DB"); ok {
		if db, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Redis.DB = db
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.ReportKey = strings.TrimSpace(c.Redis.ReportKey)
	if c.Redis.ReportKey == "" {
		c.Redis.ReportKey = defaultRedisReportKey
	}
	c.Redis.DeadLetterKey = strings.TrimSpace(c.Redis.DeadLetterKey)
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = defaultRedisDeadLetterKey
	}
	if c.Redis.BlockTimeout <= 0 {
		c.Redis.BlockTimeout = defaultRedisBlockTimeout
	}
	if c.Redis.MaxAttempts <= 0 {
		c.Redis.MaxAttempts = defaultRedisMaxAttempts
	}
	if c.Redis.RequeueDelay < 0 {
		c.Redis.RequeueDelay = 0
	}
}

func (c *Config) normalizePipeline() {
	edges := c.Pipeline.Edges[:0]
	for _, edge := range c.Pipeline.Edges {
		edge.Parent = strings.ToLower(strings.TrimSpace(edge.Parent))
		edge.Dependent = strings.ToLower(strings.TrimSpace(edge.Dependent))
		edges = append(edges, edge)
	}
	c.Pipeline.Edges = edges
}

func (c *Config) normalizeLayers() {
	if c.Defaults == nil {
		c.Defaults = map[string]any{}
	}
	c.Presets = lowerKeys(c.Presets)
	c.Templates = lowerKeys(c.Templates)
}

func lowerKeys(in map[string]map[string]any) map[string]map[string]any {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]map[string]any, len(in))
	for name, tree := range in {
		out[strings.ToLower(strings.TrimSpace(name))] = tree
	}
	return out
}
