package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.LockTimeout <= 0 {
		return errors.New("workflow.lock_timeout must be positive")
	}
	if c.Workflow.StaleScanSchedule == "" {
		return errors.New("workflow.stale_scan_schedule must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.Redis.Enabled {
		return nil
	}
	if c.Redis.ReportKey == c.Redis.DeadLetterKey {
		return errors.New("redis.dead_letter_key must differ from redis.report_key")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for i, edge := range c.Pipeline.Edges {
		if edge.Parent == "" || edge.Dependent == "" {
			return fmt.Errorf("pipeline.edges[%d]: parent and dependent must be set", i)
		}
		if edge.Parent == edge.Dependent {
			return fmt.Errorf("pipeline.edges[%d]: stage %q cannot depend on itself", i, edge.Parent)
		}
	}
	return nil
}
