package participant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// Registry 参与者名称 -> 注册记录. 写操作共用一把锁, 读操作返回深拷贝.
// local/central 两个注册状态互相独立; 两者之间的对账由集群权威方负责, 这里只提供各自的 setter.
type Registry struct {
	*core.BaseComponent
	self string
	now  func() time.Time

	mu    sync.RWMutex
	regs  map[string]*model.ParticipantRegistration
	clock time.Time // 最近一次本地注册时间, 保证单调不减
}

func NewRegistry(self string) *Registry {
	return &Registry{
		BaseComponent: core.NewBaseComponent(consts.COMP_PARTICIPANT_REGISTRY),
		self:          self,
		now:           time.Now,
		regs:          make(map[string]*model.ParticipantRegistration),
	}
}

func (r *Registry) Self() string { return r.self }

// Upsert 同名记录原地替换身份相关字段, 否则新建.
// 本地状态总是 LOCAL_ONLY + 新时间戳, 中心状态保持不变.
func (r *Registry) Upsert(in model.ParticipantRegistration) *model.ParticipantRegistration {
	name := in.Participant.Name
	if name == "" {
		logging.Debug(context.Background(), "participant upsert ignored: empty name")
		return nil
	}
	src := in.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[name]
	if !ok {
		reg = &model.ParticipantRegistration{
			Status: model.RegistrationStatus{
				RegistrationID: uuid.NewString(),
				CentralStatus:  consts.RegUnregistered,
			},
		}
		r.regs[name] = reg
	}
	reg.Participant = src.Participant
	reg.LocalComponentID = src.LocalComponentID
	reg.ComponentStatus = src.ComponentStatus
	reg.ParticipantStatus = src.ParticipantStatus
	reg.ControlStatus = src.ControlStatus
	reg.InstanceComponentIDs = model.StringSet(src.InstanceComponentIDs)
	reg.Subscriptions = dedupSubscriptions(src.Subscriptions)
	reg.PublishedOutputs = model.StringSet(src.PublishedOutputs)

	now := r.now()
	if now.Before(r.clock) {
		now = r.clock
	}
	r.clock = now
	reg.Status.LocalStatus = consts.RegLocalOnly
	reg.Status.LocalAt = now
	return reg.Clone()
}

func dedupSubscriptions(in []model.Subscription) []model.Subscription {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[model.Subscription]struct{}, len(in))
	out := make([]model.Subscription, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Remove 显式注销
func (r *Registry) Remove(name string) (*model.ParticipantRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[name]
	if !ok {
		return nil, false
	}
	delete(r.regs, name)
	return reg, true
}

func (r *Registry) Get(name string) (model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[name]
	if !ok {
		return model.Participant{}, false
	}
	return reg.Participant, true
}

func (r *Registry) GetRegistration(name string) (*model.ParticipantRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[name]
	if !ok {
		return nil, false
	}
	return reg.Clone(), true
}

// DownstreamParticipants 订阅了本节点输出的其他参与者
func (r *Registry) DownstreamParticipants() []model.Participant {
	return r.filter(func(reg *model.ParticipantRegistration) bool {
		return reg.Participant.Name != r.self && reg.SubscribesTo(r.self)
	})
}

// ParticipantsForService 同一逻辑服务的所有 processing plant 实例
func (r *Registry) ParticipantsForService(service string) []model.Participant {
	if service == "" {
		return nil
	}
	return r.filter(func(reg *model.ParticipantRegistration) bool {
		return reg.Participant.ComponentKind == consts.KindProcessingPlant && reg.Participant.Name == service
	})
}

func (r *Registry) AllParticipants() []model.Participant {
	return r.filter(func(*model.ParticipantRegistration) bool { return true })
}

func (r *Registry) filter(keep func(*model.ParticipantRegistration) bool) []model.Participant {
	r.mu.RLock()
	var out []model.Participant
	for _, reg := range r.regs {
		if keep(reg) {
			out = append(out, reg.Participant)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) RegistrationSnapshot() []*model.ParticipantRegistration {
	r.mu.RLock()
	out := make([]*model.ParticipantRegistration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.Name < out[j].Participant.Name })
	return out
}

// UpdateRegistration lets the reconciliation side mutate the status record.
func (r *Registry) UpdateRegistration(name string, fn func(*model.RegistrationStatus)) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[name]
	if !ok {
		logging.Debug(context.Background(), "registration update ignored: unknown participant", zap.String("participant", name))
		return false
	}
	status := reg.Status
	fn(&status)
	reg.Status = status
	return true
}

func (r *Registry) SetCentralStatus(name string, state consts.RegistrationState) bool {
	now := r.now()
	return r.UpdateRegistration(name, func(s *model.RegistrationStatus) {
		s.CentralStatus = state
		s.CentralAt = now
	})
}

func (r *Registry) SetLocalStatus(name string, state consts.RegistrationState) bool {
	now := r.now()
	return r.UpdateRegistration(name, func(s *model.RegistrationStatus) {
		s.LocalStatus = state
		s.LocalAt = now
	})
}
