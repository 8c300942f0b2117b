package config

import (
	"fmt"
	"os"
)

type ConfigManager struct {
	loader    *Loader
	appConfig *AppConfig
}

func NewConfigManager(env, configPath string) *ConfigManager {
	return &ConfigManager{loader: NewLoader(env, configPath)}
}

// SetBizConfig 必须在 LoadConfig 之前调用
func (cm *ConfigManager) SetBizConfig(b any) { cm.loader.SetBizConfig(b) }

func (cm *ConfigManager) GetConfig() *AppConfig { return cm.appConfig }

func (cm *ConfigManager) LoadConfig() error {
	path := cm.loader.configPath
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	cfg, err := cm.loader.LoadConfig()
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}
	cm.appConfig = cfg
	return nil
}

func validate(cfg *AppConfig) error {
	if cfg.APPInfo.APPName == "" {
		return fmt.Errorf("app_info.app_name is required")
	}
	// 其余组件都依赖 logging
	if cfg.Logging == nil || !cfg.Logging.Enabled {
		return fmt.Errorf("logging must be enabled")
	}
	if cfg.Telemetry != nil && cfg.Telemetry.Enabled && cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.APPInfo.APPName
	}
	if cfg.HTTPServer != nil && cfg.HTTPServer.ServiceName == "" {
		cfg.HTTPServer.ServiceName = cfg.APPInfo.APPName
	}
	return nil
}
