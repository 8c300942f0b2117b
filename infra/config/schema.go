package config

import (
	"github.com/grand-thief-cash/taskmesh/infra/components/gormdb"
	"github.com/grand-thief-cash/taskmesh/infra/components/grpcclient"
	"github.com/grand-thief-cash/taskmesh/infra/components/grpcserver"
	"github.com/grand-thief-cash/taskmesh/infra/components/httpserver"
	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/components/prometheus"
	"github.com/grand-thief-cash/taskmesh/infra/components/redis"
	"github.com/grand-thief-cash/taskmesh/infra/components/telemetry"
)

// AppConfig 节点配置. 缺失的小节对应组件不会被注册
type AppConfig struct {
	APPInfo     *APPInfo                      `yaml:"app_info" json:"app_info"`
	Logging     *logging.LoggingConfig        `yaml:"logging" json:"logging"`
	GRPCServer  *grpcserver.Config            `yaml:"grpc_server" json:"grpc_server"`
	GRPCClients *grpcclient.GRPCClientsConfig `yaml:"grpc_clients" json:"grpc_clients"`
	Prometheus  *prometheus.Config            `yaml:"prometheus" json:"prometheus"`
	Redis       *redis.Config                 `yaml:"redis" json:"redis"`
	Gorm        *gormdb.Config                `yaml:"gorm" json:"gorm"`
	Telemetry   *telemetry.Config             `yaml:"telemetry" json:"telemetry"`
	HTTPServer  *httpserver.HTTPServerConfig  `yaml:"http_server" json:"http_server"`
	BizConfig   any                           `yaml:"biz_config" json:"biz_config"`
}

type APPInfo struct {
	APPName string `yaml:"app_name" json:"app_name"`
	ENV     string `yaml:"env" json:"env"`
}
