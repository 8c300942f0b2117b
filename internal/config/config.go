package config

import (
	"fmt"
	"time"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

// NodeConfig 本节点身份
type NodeConfig struct {
	ParticipantName string               `yaml:"participant_name" json:"participant_name"` // 本地参与者名称
	ComponentID     string               `yaml:"component_id" json:"component_id"`
	ComponentKind   consts.ComponentKind `yaml:"component_kind" json:"component_kind"`
	Service         string               `yaml:"service" json:"service"` // 集群内逻辑服务名, 其他节点据此解析地址
	Scope           string               `yaml:"scope" json:"scope"`     // 能力探测的作用域, 不同 scope 的探测返回 not in scope
	Address         string               `yaml:"address" json:"address"` // 对外公布的 gRPC 地址
}

type QueueConfig struct {
	OffloadThreshold int `yaml:"offload_threshold" json:"offload_threshold"` // 超过该长度时把最旧的条目移到中心存储
	OnloadThreshold  int `yaml:"onload_threshold" json:"onload_threshold"`   // 低于该长度时从中心存储取回
	OffloadBatch     int `yaml:"offload_batch" json:"offload_batch"`
}

type SweepConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	DataSource string        `yaml:"data_source" json:"data_source"` // gorm 数据源名, 未启用 gorm 时只做转发
}

type ScanConfig struct {
	InitialDelay         time.Duration `yaml:"initial_delay" json:"initial_delay"`
	Period               time.Duration `yaml:"period" json:"period"`
	MaxAttempts          int           `yaml:"max_attempts" json:"max_attempts"`
	Parallelism          int           `yaml:"parallelism" json:"parallelism"`
	RequiredCapabilities []string      `yaml:"required_capabilities" json:"required_capabilities"`
}

type TransportConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	Codec       string        `yaml:"codec" json:"codec"` // json | msgpack
}

type StaticPeer struct {
	NodeID  string `yaml:"node_id" json:"node_id"`
	Service string `yaml:"service" json:"service"`
	Address string `yaml:"address" json:"address"`
}

type MembershipConfig struct {
	Provider    string        `yaml:"provider" json:"provider"` // static | redis
	StaticPeers []StaticPeer  `yaml:"static_peers" json:"static_peers"`
	KeyPrefix   string        `yaml:"key_prefix" json:"key_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat" json:"heartbeat"`
	MemberTTL   time.Duration `yaml:"member_ttl" json:"member_ttl"`
}

// Config 对应 biz_config 小节
type Config struct {
	Node       NodeConfig       `yaml:"node" json:"node"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Sweep      SweepConfig      `yaml:"sweep" json:"sweep"`
	Scan       ScanConfig       `yaml:"scan" json:"scan"`
	Transport  TransportConfig  `yaml:"transport" json:"transport"`
	Membership MembershipConfig `yaml:"membership" json:"membership"`
}

func Default() *Config {
	return &Config{
		Node:       NodeConfig{ComponentKind: consts.KindProcessingPlant, Scope: "default"},
		Queue:      QueueConfig{OffloadThreshold: 1000, OnloadThreshold: 100, OffloadBatch: 200},
		Sweep:      SweepConfig{Enabled: true, Interval: 5 * time.Second, DataSource: "central"},
		Scan:       ScanConfig{InitialDelay: 2 * time.Second, Period: 10 * time.Second, MaxAttempts: 5, Parallelism: 8},
		Transport:  TransportConfig{CallTimeout: 2 * time.Second, Codec: consts.CODEC_JSON},
		Membership: MembershipConfig{Provider: "static", KeyPrefix: "taskmesh", Heartbeat: 3 * time.Second, MemberTTL: 15 * time.Second},
	}
}

// Validate fills zero values left by a partial biz_config and checks the rest.
func (c *Config) Validate() error {
	d := Default()
	if c.Node.ParticipantName == "" {
		return fmt.Errorf("biz_config.node.participant_name is required")
	}
	if c.Node.Service == "" {
		c.Node.Service = c.Node.ParticipantName
	}
	if c.Node.ComponentID == "" {
		c.Node.ComponentID = c.Node.ParticipantName
	}
	if c.Node.ComponentKind == "" {
		c.Node.ComponentKind = d.Node.ComponentKind
	}
	if c.Node.Scope == "" {
		c.Node.Scope = d.Node.Scope
	}
	if c.Queue.OffloadBatch <= 0 {
		c.Queue.OffloadBatch = d.Queue.OffloadBatch
	}
	if c.Queue.OffloadThreshold <= 0 {
		c.Queue.OffloadThreshold = d.Queue.OffloadThreshold
	}
	if c.Queue.OnloadThreshold < 0 || c.Queue.OnloadThreshold > c.Queue.OffloadThreshold {
		return fmt.Errorf("biz_config.queue.onload_threshold must be within [0, offload_threshold]")
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = d.Sweep.Interval
	}
	if c.Sweep.DataSource == "" {
		c.Sweep.DataSource = d.Sweep.DataSource
	}
	if c.Scan.Period <= 0 {
		c.Scan.Period = d.Scan.Period
	}
	if c.Scan.InitialDelay < 0 {
		c.Scan.InitialDelay = 0
	}
	if c.Scan.MaxAttempts <= 0 {
		c.Scan.MaxAttempts = d.Scan.MaxAttempts
	}
	if c.Scan.Parallelism <= 0 {
		c.Scan.Parallelism = d.Scan.Parallelism
	}
	if c.Transport.CallTimeout <= 0 {
		c.Transport.CallTimeout = d.Transport.CallTimeout
	}
	switch c.Transport.Codec {
	case "":
		c.Transport.Codec = consts.CODEC_JSON
	case consts.CODEC_JSON, consts.CODEC_MSGPACK:
	default:
		return fmt.Errorf("biz_config.transport.codec %q not supported", c.Transport.Codec)
	}
	switch c.Membership.Provider {
	case "":
		c.Membership.Provider = "static"
	case "static", "redis":
	default:
		return fmt.Errorf("biz_config.membership.provider %q not supported", c.Membership.Provider)
	}
	if c.Membership.KeyPrefix == "" {
		c.Membership.KeyPrefix = d.Membership.KeyPrefix
	}
	if c.Membership.Heartbeat <= 0 {
		c.Membership.Heartbeat = d.Membership.Heartbeat
	}
	if c.Membership.MemberTTL <= c.Membership.Heartbeat {
		c.Membership.MemberTTL = 5 * c.Membership.Heartbeat
	}
	return nil
}
