package model

import "time"

type DeliveryNode struct {
	Participant string `json:"participant"`
	Service     string `json:"service"`
	Address     string `json:"address"`
}

// CapabilityRecord 由扫描重建, 不持久化
type CapabilityRecord struct {
	Name          string         `json:"name"`
	DeliveryNodes []DeliveryNode `json:"delivery_nodes"`
}

func (c CapabilityRecord) Clone() CapabilityRecord {
	c.DeliveryNodes = append([]DeliveryNode(nil), c.DeliveryNodes...)
	return c
}

// EndpointIdentity 发起 RPC 的端点
type EndpointIdentity struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Scope   string `json:"scope"`
	Address string `json:"address,omitempty"`
}

type CapabilityProbeRequest struct {
	Caller EndpointIdentity `json:"caller"`
}

// CapabilityProbeResponse InScope=false 时其余字段无意义
type CapabilityProbeResponse struct {
	InScope      bool               `json:"in_scope"`
	Endpoint     EndpointIdentity   `json:"endpoint"`
	Capabilities []CapabilityRecord `json:"capabilities,omitempty"`
	ProbedAt     time.Time          `json:"probed_at"`
}

type TaskExecutionRequest struct {
	Capability string   `json:"capability"`
	WorkItem   WorkItem `json:"work_item"`
}

type TaskExecutionResult struct {
	Capability string   `json:"capability"`
	WorkItem   WorkItem `json:"work_item"`
	Successful bool     `json:"successful"`
	Error      string   `json:"error,omitempty"`
}
