package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grand-thief-cash/taskmesh/infra/consts"
)

// Loader reads the file, then decodes biz_config a second time into the
// caller's typed pointer so its defaults survive.
type Loader struct {
	env        string
	configPath string
	bizConfig  any
}

func NewLoader(env, configPath string) *Loader {
	if env == "" {
		env = consts.ENV_DEVELOPMENT
	}
	if configPath == "" {
		configPath = consts.DEFAULT_CONFIG_PATH
	}
	return &Loader{env: env, configPath: configPath}
}

// SetBizConfig 需要传入指针, 例如 &config.Config{}
func (l *Loader) SetBizConfig(b any) {
	if b == nil {
		return
	}
	if reflect.TypeOf(b).Kind() != reflect.Ptr {
		panic("SetBizConfig expects a pointer")
	}
	l.bizConfig = b
}

func (l *Loader) LoadConfig() (*AppConfig, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(l.configPath))
	var cfg AppConfig
	if err := unmarshal(ext, data, &cfg); err != nil {
		return nil, err
	}
	if l.bizConfig != nil {
		if cfg.BizConfig != nil {
			raw, err := marshal(ext, cfg.BizConfig)
			if err != nil {
				return nil, fmt.Errorf("re-marshal biz_config failed: %w", err)
			}
			if err := unmarshal(ext, raw, l.bizConfig); err != nil {
				return nil, fmt.Errorf("decode biz_config failed: %w", err)
			}
		}
		cfg.BizConfig = l.bizConfig
	}
	if cfg.APPInfo == nil {
		cfg.APPInfo = &APPInfo{}
	}
	if cfg.APPInfo.ENV == "" {
		cfg.APPInfo.ENV = l.env
	}
	return &cfg, nil
}

func unmarshal(ext string, data []byte, out any) error {
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	return nil
}

func marshal(ext string, v any) ([]byte, error) {
	if ext == ".json" {
		return json.Marshal(v)
	}
	return yaml.Marshal(v)
}
