package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StorageDir == "" {
		return errors.New("paths.storage_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.soft_timeout_min":     c.Workflow.SoftTimeoutMin,
		"workflow.hard_timeout_min":     c.Workflow.HardTimeoutMin,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.HardTimeoutMin < c.Workflow.SoftTimeoutMin {
		return errors.New("workflow.hard_timeout_min must be at least workflow.soft_timeout_min")
	}
	if c.Workflow.RetryMaxDelaySec < c.Workflow.RetryBaseDelaySec {
		return errors.New("workflow.retry_max_delay_sec must be at least workflow.retry_base_delay_sec")
	}
	return nil
}

func (c *Config) validateAdmission() error {
	return ensurePositiveMap(map[string]int{
		"admission.jobs_per_hour":      c.Admission.JobsPerHour,
		"admission.downloads_per_hour": c.Admission.DownloadsPerHour,
	})
}

func (c *Config) validateRetention() error {
	return ensurePositiveMap(map[string]int{
		"retention.retention_days":       c.Retention.RetentionDays,
		"retention.sweep_interval_hours": c.Retention.SweepIntervalHours,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
