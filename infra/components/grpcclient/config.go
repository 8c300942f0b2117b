package grpcclient

import "time"

// GRPCClientsConfig 集群对等连接池配置. 连接按目标地址懒加载创建
type GRPCClientsConfig struct {
	Enabled             bool              `yaml:"enabled" json:"enabled"`
	Secure              bool              `yaml:"secure" json:"secure"`
	CredentialsPath     string            `yaml:"credentials_path,omitempty" json:"credentials_path,omitempty"`
	MaxRecvMsgSize      int               `yaml:"max_recv_msg_size" json:"max_recv_msg_size"`
	MaxSendMsgSize      int               `yaml:"max_send_msg_size" json:"max_send_msg_size"`
	DefaultTimeout      time.Duration     `yaml:"default_timeout" json:"default_timeout"`
	Keepalive           *KeepaliveOptions `yaml:"keepalive_options,omitempty" json:"keepalive_options,omitempty"`
	EnableHealthCheck   bool              `yaml:"enable_health_check" json:"enable_health_check"`
	HealthCheckInterval time.Duration     `yaml:"health_check_interval" json:"health_check_interval"`
}

type KeepaliveOptions struct {
	Time                time.Duration `yaml:"time" json:"time"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	PermitWithoutStream bool          `yaml:"permit_without_stream" json:"permit_without_stream"`
}

func ApplyDefaults(c *GRPCClientsConfig) {
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = 4 << 20
	}
	if c.MaxSendMsgSize == 0 {
		c.MaxSendMsgSize = 4 << 20
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = time.Minute
	}
}
