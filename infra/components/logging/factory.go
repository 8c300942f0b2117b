package logging

import (
	"fmt"
	"strings"
)

// NewFromConfig applies defaults, validates, and returns an unstarted component.
func NewFromConfig(cfg *LoggingConfig) (*LoggerComponent, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("logging component is disabled")
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return NewLoggerComponent(cfg), nil
}

func applyDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if strings.EqualFold(cfg.Output, "file") && cfg.FileConfig == nil {
		cfg.FileConfig = &FileConfig{Dir: "./logs", Filename: "taskmesh"}
	}
	if rc := cfg.RotateConfig; rc != nil && rc.Enabled {
		if rc.Mode == "" {
			rc.Mode = "size"
		}
		if rc.MaxSizeMB <= 0 {
			rc.MaxSizeMB = 100
		}
	}
}

func validate(cfg *LoggingConfig) error {
	rc := cfg.RotateConfig
	if rc == nil || !rc.Enabled {
		return nil
	}
	switch rc.Mode {
	case "size":
	case "interval":
		if rc.RotateInterval <= 0 {
			return fmt.Errorf("logging.rotate_config.rotate_interval must be > 0 in interval mode")
		}
	default:
		return fmt.Errorf("logging.rotate_config.mode %q not supported", rc.Mode)
	}
	if rc.MaxAge < 0 {
		return fmt.Errorf("logging.rotate_config.max_age must be >= 0")
	}
	return nil
}
