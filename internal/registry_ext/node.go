package registry_ext

import (
	"fmt"

	"github.com/grand-thief-cash/taskmesh/infra/config"
	bizConfig "github.com/grand-thief-cash/taskmesh/internal/config"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// nodeConfig 取出 biz_config 并补全默认值
func nodeConfig(cfg *config.AppConfig) (*bizConfig.Config, error) {
	if cfg == nil || cfg.BizConfig == nil {
		return nil, fmt.Errorf("biz_config is required")
	}
	bc, ok := cfg.BizConfig.(*bizConfig.Config)
	if !ok {
		return nil, fmt.Errorf("biz_config has type %T, want *config.Config", cfg.BizConfig)
	}
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	return bc, nil
}

func identity(bc *bizConfig.Config) model.EndpointIdentity {
	return model.EndpointIdentity{
		Name:    bc.Node.ParticipantName,
		Service: bc.Node.Service,
		Scope:   bc.Node.Scope,
		Address: bc.Node.Address,
	}
}
