package model

import "time"

// AuditEvent FHIR AuditEvent 的精简形态, 对核心不透明
type AuditEvent struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Action   string            `json:"action"` // C R U D E
	Outcome  string            `json:"outcome"`
	Agent    string            `json:"agent"`
	Entity   string            `json:"entity,omitempty"`
	Recorded time.Time         `json:"recorded"`
	Detail   map[string]string `json:"detail,omitempty"`
}

type AuditBatch struct {
	Events []AuditEvent `json:"events"`
}

type AuditAck struct {
	Accepted int `json:"accepted"`
}
