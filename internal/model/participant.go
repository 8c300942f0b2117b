package model

import (
	"sort"
	"time"

	"github.com/grand-thief-cash/taskmesh/internal/consts"
)

type Subscription struct {
	OriginParticipant string `json:"origin_participant"`
	ContentType       string `json:"content_type"`
}

type Participant struct {
	Name          string               `json:"name"`
	ComponentID   string               `json:"component_id"`
	ComponentKind consts.ComponentKind `json:"component_kind"`
	ServiceName   string               `json:"service_name,omitempty"` // 承载该参与者的集群服务, 为空时等于 Name
}

// Service returns the cluster service that hosts the participant.
func (p Participant) Service() string {
	if p.ServiceName != "" {
		return p.ServiceName
	}
	return p.Name
}

type RegistrationStatus struct {
	RegistrationID string                   `json:"registration_id"`
	LocalStatus    consts.RegistrationState `json:"local_status"`
	LocalAt        time.Time                `json:"local_at"`
	CentralStatus  consts.RegistrationState `json:"central_status"`
	CentralAt      time.Time                `json:"central_at"`
}

type ParticipantRegistration struct {
	Participant          Participant              `json:"participant"`
	LocalComponentID     string                   `json:"local_component_id"`
	ComponentStatus      consts.ComponentStatus   `json:"component_status"`
	ParticipantStatus    consts.ParticipantStatus `json:"participant_status"`
	ControlStatus        consts.ControlStatus     `json:"control_status"`
	InstanceComponentIDs []string                 `json:"instance_component_ids,omitempty"` // 集合语义, 排序去重
	Subscriptions        []Subscription           `json:"subscriptions,omitempty"`
	PublishedOutputs     []string                 `json:"published_outputs,omitempty"`
	Status               RegistrationStatus       `json:"status"`
}

func (r *ParticipantRegistration) Clone() *ParticipantRegistration {
	if r == nil {
		return nil
	}
	cp := *r
	cp.InstanceComponentIDs = append([]string(nil), r.InstanceComponentIDs...)
	cp.Subscriptions = append([]Subscription(nil), r.Subscriptions...)
	cp.PublishedOutputs = append([]string(nil), r.PublishedOutputs...)
	return &cp
}

// SubscribesTo reports whether any subscription originates at origin.
func (r *ParticipantRegistration) SubscribesTo(origin string) bool {
	for _, s := range r.Subscriptions {
		if s.OriginParticipant == origin {
			return true
		}
	}
	return false
}

// StringSet 排序去重, 去掉空串
func StringSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
