package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/audit"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/capability"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/participant"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
	"github.com/grand-thief-cash/taskmesh/internal/transport"
	"github.com/grand-thief-cash/taskmesh/internal/wire"
)

var (
	ErrMissingContent  = errors.New("request has no content")
	ErrMissingEndpoint = errors.New("request has no requesting endpoint")
	ErrNotRegistered   = errors.New("task not registered")
	ErrUnresolvable    = errors.New("no address for service")
	ErrNoProvider      = errors.New("no provider for capability")
)

// Fulfiller 真正执行任务的处理管线
type Fulfiller interface {
	Fulfill(ctx context.Context, task *model.ActionableTask) (model.WorkItem, error)
}

type FulfillerFunc func(ctx context.Context, task *model.ActionableTask) (model.WorkItem, error)

func (f FulfillerFunc) Fulfill(ctx context.Context, task *model.ActionableTask) (model.WorkItem, error) {
	return f(ctx, task)
}

// CapabilityFulfiller runs the local capability named by the work item's content type.
func CapabilityFulfiller(ep *capability.Endpoint) Fulfiller {
	return FulfillerFunc(func(ctx context.Context, task *model.ActionableTask) (model.WorkItem, error) {
		res := ep.ExecuteLocal(ctx, model.TaskExecutionRequest{Capability: task.WorkItem.ContentType, WorkItem: task.WorkItem})
		if !res.Successful {
			return model.WorkItem{}, errors.New(res.Error)
		}
		return res.WorkItem, nil
	})
}

type Deps struct {
	Cache        *cache.TaskCache
	Queues       *queue.QueueSet
	Registry     *participant.Registry
	RPC          transport.RPCClient
	Capabilities *capability.Endpoint
	Audit        audit.Sink
	Fulfiller    Fulfiller
}

// Manager 任务分发: 服务端 handler, 客户端 stub 以及本地的提交/转发/扇出.
// 自身不持有锁, 所有状态都在 cache/queue/registry 里.
type Manager struct {
	*core.BaseComponent
	identity    model.EndpointIdentity
	callTimeout time.Duration
	deps        Deps
}

func NewManager(identity model.EndpointIdentity, callTimeout time.Duration, d Deps) *Manager {
	if d.Fulfiller == nil && d.Capabilities != nil {
		d.Fulfiller = CapabilityFulfiller(d.Capabilities)
	}
	if d.Audit == nil {
		d.Audit = audit.NewLoggingSink()
	}
	return &Manager{
		BaseComponent: core.NewBaseComponent(consts.COMP_DISTRIBUTION,
			consts.COMP_TASK_CACHE, consts.COMP_QUEUE_SET, consts.COMP_PARTICIPANT_REGISTRY,
			consts.COMP_TRANSPORT, consts.COMP_CAPABILITY, consts.COMP_AUDIT_SINK),
		identity:    identity,
		callTimeout: callTimeout,
		deps:        d,
	}
}

func (m *Manager) Identity() model.EndpointIdentity { return m.identity }

// Methods 服务端方法表, 由 transport 注册到 grpc server
func (m *Manager) Methods() []wire.Method {
	return []wire.Method{
		wire.Unary(consts.METHOD_REGISTER_TASK, m.handleRegister),
		wire.Unary(consts.METHOD_UPDATE_TASK, m.handleUpdate),
		wire.Unary(consts.METHOD_FULFILL_TASK, m.handleFulfill),
		wire.Unary(consts.METHOD_RETRIEVE_PENDING, m.handleRetrievePending),
		wire.Unary(consts.METHOD_EXECUTE_TASK, m.handleExecute),
		wire.Unary(consts.METHOD_LOG_AUDIT_EVENT, m.handleAuditEvent),
		wire.Unary(consts.METHOD_LOG_AUDIT_EVENTS, m.handleAuditEvents),
	}
}

// Submit 本地登记; 执行者不是本节点时按序进入执行者的队列
func (m *Manager) Submit(ctx context.Context, task *model.ActionableTask) (cache.Outcome, bool) {
	out := m.deps.Cache.RegisterTask(task)
	if !out.Registered {
		return out, false
	}
	performer := out.Task.Performer
	if performer == "" || performer == m.identity.Name {
		return out, false
	}
	entry, ok := m.deps.Queues.Enqueue(performer, out.Task.ID)
	if ok {
		logging.Debug(ctx, "task queued for performer", zap.String("task", out.Task.ID.String()),
			zap.String("performer", performer), zap.Int64("seq", entry.Sequence))
	}
	return out, ok
}

// ForwardPending 把每个队列从队头开始登记到执行者所在节点.
// 某个参与者第一次失败即停止该参与者本轮的转发, 保证顺序. 返回成功转发的条数.
func (m *Manager) ForwardPending(ctx context.Context) int {
	forwarded := 0
	for _, name := range m.deps.Queues.Participants() {
		q := m.deps.Queues.Queue(name)
		service := m.serviceOf(name)
		for ctx.Err() == nil {
			entry, ok := q.Peek()
			if !ok {
				break
			}
			task, ok := m.deps.Cache.GetTask(entry.TaskID)
			if !ok {
				logging.Debug(ctx, "dropping queue entry without cached task", zap.String("task", entry.TaskID.String()))
				q.Remove(entry.TaskID)
				continue
			}
			resp := m.RegisterTask(ctx, service, task)
			if !resp.Successful {
				logging.Info(ctx, "forward paused for participant", zap.String("participant", name),
					zap.String("task", entry.TaskID.String()), zap.String("error", resp.Error))
				break
			}
			q.Remove(entry.TaskID)
			forwarded++
		}
	}
	return forwarded
}

func (m *Manager) serviceOf(name string) string {
	if p, ok := m.deps.Registry.Get(name); ok {
		return p.Service()
	}
	return name
}

// FanOut 为每个订阅了本节点输出的下游参与者派生一个子任务, 父任务记录一跳.
func (m *Manager) FanOut(ctx context.Context, parent *model.ActionableTask) []*model.ActionableTask {
	if parent == nil || !parent.ID.Valid() {
		logging.Debug(ctx, "fan out ignored: missing identity")
		return nil
	}
	if _, ok := m.deps.Cache.GetTask(parent.ID); !ok {
		m.deps.Cache.RegisterTask(parent)
	}
	var children []*model.ActionableTask
	for _, p := range m.deps.Registry.DownstreamParticipants() {
		if !m.accepts(p.Name, parent.WorkItem.ContentType) {
			continue
		}
		child := &model.ActionableTask{
			ID:        model.NewTaskID(parent.ID.BusinessID),
			Origin:    m.identity.Name,
			Performer: p.Name,
			WorkItem:  parent.WorkItem,
		}
		out, _ := m.Submit(ctx, child)
		if out.Task == nil {
			continue
		}
		m.deps.Cache.AppendTraceability(parent.ID, model.TraceabilityHop{Fulfiller: p.Name, FulfillerTaskID: out.Task.ID})
		children = append(children, out.Task)
	}
	return children
}

// accepts 订阅中 content type 为空表示接收全部
func (m *Manager) accepts(name, contentType string) bool {
	reg, ok := m.deps.Registry.GetRegistration(name)
	if !ok {
		return false
	}
	for _, s := range reg.Subscriptions {
		if s.OriginParticipant == m.identity.Name && (s.ContentType == "" || s.ContentType == contentType) {
			return true
		}
	}
	return false
}

// ExecuteTask 优先本地能力, 否则依次尝试目录中的提供者
func (m *Manager) ExecuteTask(ctx context.Context, name string, item model.WorkItem) model.TaskExecutionResult {
	req := model.TaskExecutionRequest{Capability: name, WorkItem: item}
	if m.deps.Capabilities.HasLocal(name) {
		return m.deps.Capabilities.ExecuteLocal(ctx, req)
	}
	res := model.TaskExecutionResult{Capability: name, Error: fmt.Sprintf("%v: %s", ErrNoProvider, name)}
	for _, node := range m.deps.Capabilities.Providers(name) {
		if node.Address == "" || node.Address == m.identity.Address {
			continue
		}
		resp := m.ExecuteAt(ctx, node.Address, req)
		if resp.Successful && resp.Content != nil {
			return *resp.Content
		}
		res.Error = resp.Error
		logging.Debug(ctx, "capability provider failed", zap.String("capability", name),
			zap.String("address", node.Address), zap.String("error", resp.Error))
	}
	return res
}
