package registry

import (
	"github.com/grand-thief-cash/taskmesh/infra/components/gormdb"
	"github.com/grand-thief-cash/taskmesh/infra/components/grpcclient"
	"github.com/grand-thief-cash/taskmesh/infra/components/grpcserver"
	"github.com/grand-thief-cash/taskmesh/infra/components/httpserver"
	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/components/prometheus"
	"github.com/grand-thief-cash/taskmesh/infra/components/redis"
	"github.com/grand-thief-cash/taskmesh/infra/components/telemetry"
	"github.com/grand-thief-cash/taskmesh/infra/config"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// infra 组件的 builder. 配置缺失或 enabled=false 时不注册
func init() {
	Register(consts.COMPONENT_LOGGING, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Logging == nil || !cfg.Logging.Enabled {
			return false, nil, nil
		}
		comp, err := logging.NewFromConfig(cfg.Logging)
		return true, comp, err
	})
	Register(consts.COMPONENT_TELEMETRY, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Telemetry == nil || !cfg.Telemetry.Enabled {
			return false, nil, nil
		}
		return true, telemetry.NewTelemetryComponent(cfg.Telemetry), nil
	})
	Register(consts.COMPONENT_PROMETHEUS, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Prometheus == nil || !cfg.Prometheus.Enabled {
			return false, nil, nil
		}
		return true, prometheus.NewComponent(cfg.Prometheus), nil
	})
	Register(consts.COMPONENT_REDIS, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Redis == nil || !cfg.Redis.Enabled {
			return false, nil, nil
		}
		return true, redis.NewRedisComponent(cfg.Redis), nil
	})
	Register(consts.COMPONENT_GORM, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Gorm == nil || !cfg.Gorm.Enabled {
			return false, nil, nil
		}
		return true, gormdb.NewGormComponent(cfg.Gorm), nil
	})
	Register(consts.COMPONENT_GRPC_CLIENTS, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.GRPCClients == nil || !cfg.GRPCClients.Enabled {
			return false, nil, nil
		}
		return true, grpcclient.NewGRPCClientComponent(cfg.GRPCClients), nil
	})
	Register(consts.COMPONENT_GRPC_SERVER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.GRPCServer == nil || !cfg.GRPCServer.Enabled {
			return false, nil, nil
		}
		grpcserver.ApplyDefaults(cfg.GRPCServer)
		return true, grpcserver.NewGRPCServerComponent(cfg.GRPCServer, c), nil
	})
	Register(consts.COMPONENT_HTTP_SERVER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.HTTPServer == nil || !cfg.HTTPServer.Enabled {
			return false, nil, nil
		}
		return true, httpserver.NewHTTPServerComponent(cfg.HTTPServer, c), nil
	})
}
