package model

import (
	"time"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

type TraceabilityHop struct {
	Fulfiller       string    `json:"fulfiller"`         // 完成该跳的参与者
	FulfillerTaskID TaskID    `json:"fulfiller_task_id"` // 该参与者自己的任务身份
	At              time.Time `json:"at"`
}

type PersistenceStatus struct {
	LocalParticipant string               `json:"local_participant,omitempty"`
	LocalStatus      consts.StorageStatus `json:"local_status,omitempty"`
	LocalAt          time.Time            `json:"local_at"`
	CentralStatus    consts.StorageStatus `json:"central_status,omitempty"`
	CentralAt        time.Time            `json:"central_at"`
}

// TraceabilityRecord hop 序号即追加时的长度, 只追加
type TraceabilityRecord struct {
	Hops        map[int]TraceabilityHop `json:"hops,omitempty"`
	Persistence PersistenceStatus       `json:"persistence"`
	RetryOf     *TaskID                 `json:"retry_of,omitempty"`
}

// Append adds hop under the next sequence number and returns it.
func (r *TraceabilityRecord) Append(hop TraceabilityHop) int {
	if r.Hops == nil {
		r.Hops = make(map[int]TraceabilityHop)
	}
	seq := len(r.Hops)
	r.Hops[seq] = hop
	return seq
}

func (r TraceabilityRecord) Clone() TraceabilityRecord {
	cp := r
	if r.Hops != nil {
		cp.Hops = make(map[int]TraceabilityHop, len(r.Hops))
		for k, v := range r.Hops {
			cp.Hops[k] = v
		}
	}
	if r.RetryOf != nil {
		id := *r.RetryOf
		cp.RetryOf = &id
	}
	return cp
}
