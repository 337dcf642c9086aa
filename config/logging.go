package config

import (
	"fmt"
)

// LogConfig sets the application log level.
type LogConfig struct {
	Level string `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// DivergenceLogConfig defines settings for divergence log storage and rotation.
type DivergenceLogConfig struct {
	// Backend selects the store type: "jsonl", "rotating" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the log store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb" validate:"gte=0"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups" validate:"gte=0"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days" validate:"gte=0"`
}

// SetDefaults applies sane defaults.
func (c *DivergenceLogConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "divergence.log"
	}
}

// Validate checks mandatory fields.
func (c DivergenceLogConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "rotating", "sqlite":
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}
