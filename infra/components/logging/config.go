package logging

import "time"

// LoggingConfig 日志配置
type LoggingConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Level        string        `yaml:"level" json:"level"`
	Format       string        `yaml:"format" json:"format"` // json | console
	Output       string        `yaml:"output" json:"output"` // stdout | stderr | file | <path>
	FileConfig   *FileConfig   `yaml:"file_config,omitempty" json:"file_config,omitempty"`
	RotateConfig *RotateConfig `yaml:"rotate_config,omitempty" json:"rotate_config,omitempty"`
	// StaticFields are attached to every entry, e.g. node / participant names.
	StaticFields map[string]string `yaml:"static_fields,omitempty" json:"static_fields,omitempty"`
}

type FileConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Filename string `yaml:"filename" json:"filename"`
}

// RotateConfig 轮转配置. Mode "size" 使用 lumberjack, "interval" 按时间间隔切分
type RotateConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Mode           string        `yaml:"mode" json:"mode"`
	MaxSizeMB      int           `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups     int           `yaml:"max_backups" json:"max_backups"`
	RotateInterval time.Duration `yaml:"rotate_interval" json:"rotate_interval"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	CleanupEnabled bool          `yaml:"cleanup_enabled" json:"cleanup_enabled"`
}
