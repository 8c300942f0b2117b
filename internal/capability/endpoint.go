package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/membership"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/transport"
	"github.com/grand-thief-cash/taskmesh/internal/wire"
)

type State string

const (
	Idle      State = "IDLE"
	Scheduled State = "SCHEDULED"
	Scanning  State = "SCANNING"
)

// LocalFunc 本节点提供的能力实现
type LocalFunc func(ctx context.Context, item model.WorkItem) (model.WorkItem, error)

type Settings struct {
	InitialDelay time.Duration
	Period       time.Duration
	MaxAttempts  int
	Parallelism  int
	ProbeTimeout time.Duration
	Required     []string // 这些能力未找到提供者时继续重扫
}

// Endpoint 能力发现与路由.
// 扫描状态机 Idle -> Scheduled -> Scanning -> (Idle | Scheduled), 只在 scanMu 下迁移.
type Endpoint struct {
	*core.BaseComponent
	identity model.EndpointIdentity
	members  membership.Provider
	rpc      transport.RPCClient
	settings Settings
	now      func() time.Time

	localMu sync.RWMutex
	local   map[string]LocalFunc

	catMu   sync.RWMutex
	catalog map[string]model.CapabilityRecord

	scanMu   sync.Mutex
	state    State
	attempts int
	dirty    bool // 扫描中途收到新的请求
	gen      int
	cancel   context.CancelFunc

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	unsub      func()
}

func NewEndpoint(identity model.EndpointIdentity, members membership.Provider, rpc transport.RPCClient, s Settings) *Endpoint {
	if s.Period <= 0 {
		s.Period = 10 * time.Second
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 5
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 8
	}
	return &Endpoint{
		BaseComponent: core.NewBaseComponent(consts.COMP_CAPABILITY, consts.COMP_TRANSPORT, consts.COMP_MEMBERSHIP),
		identity:      identity,
		members:       members,
		rpc:           rpc,
		settings:      s,
		now:           time.Now,
		local:         make(map[string]LocalFunc),
		catalog:       make(map[string]model.CapabilityRecord),
		state:         Idle,
	}
}

func (e *Endpoint) Identity() model.EndpointIdentity { return e.identity }

// Methods 服务端方法
func (e *Endpoint) Methods() []wire.Method {
	return []wire.Method{wire.Unary(consts.METHOD_PROBE_CAPABILITIES, e.handleProbe)}
}

func (e *Endpoint) Start(ctx context.Context) error {
	if e.IsActive() {
		return nil
	}
	e.scanMu.Lock()
	e.root, e.rootCancel = context.WithCancel(context.Background())
	e.scanMu.Unlock()
	if err := e.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if e.members != nil {
		e.unsub = e.members.Subscribe(func(ev membership.Event) {
			logging.Debug(context.Background(), "membership change, scheduling capability scan",
				zap.String("kind", string(ev.Kind)), zap.String("node", ev.Member.NodeID))
			e.RequestScan()
		})
	}
	e.RequestScan()
	return nil
}

func (e *Endpoint) Stop(ctx context.Context) error {
	if !e.IsActive() {
		return nil
	}
	if e.unsub != nil {
		e.unsub()
	}
	e.scanMu.Lock()
	e.rootCancel()
	e.reset()
	e.scanMu.Unlock()
	e.wg.Wait()
	return e.BaseComponent.Stop(ctx)
}

// RegisterCapability 注册本地能力, 扫描结果中会带上本节点
func (e *Endpoint) RegisterCapability(name string, fn LocalFunc) {
	if name == "" || fn == nil {
		return
	}
	e.localMu.Lock()
	e.local[name] = fn
	e.localMu.Unlock()
}

func (e *Endpoint) localRecords() []model.CapabilityRecord {
	e.localMu.RLock()
	names := make([]string, 0, len(e.local))
	for n := range e.local {
		names = append(names, n)
	}
	e.localMu.RUnlock()
	sort.Strings(names)
	node := model.DeliveryNode{Participant: e.identity.Name, Service: e.identity.Service, Address: e.identity.Address}
	out := make([]model.CapabilityRecord, 0, len(names))
	for _, n := range names {
		out = append(out, model.CapabilityRecord{Name: n, DeliveryNodes: []model.DeliveryNode{node}})
	}
	return out
}

// ExecuteLocal runs a local capability; unknown names are an unsuccessful result.
func (e *Endpoint) ExecuteLocal(ctx context.Context, req model.TaskExecutionRequest) model.TaskExecutionResult {
	e.localMu.RLock()
	fn, ok := e.local[req.Capability]
	e.localMu.RUnlock()
	res := model.TaskExecutionResult{Capability: req.Capability}
	if !ok {
		res.Error = fmt.Sprintf("capability %q not provided by %s", req.Capability, e.identity.Name)
		return res
	}
	out, err := fn(ctx, req.WorkItem)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.WorkItem, res.Successful = out, true
	return res
}

// HasLocal reports whether this node provides the capability itself.
func (e *Endpoint) HasLocal(name string) bool {
	e.localMu.RLock()
	defer e.localMu.RUnlock()
	_, ok := e.local[name]
	return ok
}

func (e *Endpoint) Catalog() []model.CapabilityRecord {
	e.catMu.RLock()
	out := make([]model.CapabilityRecord, 0, len(e.catalog))
	for _, r := range e.catalog {
		out = append(out, r.Clone())
	}
	e.catMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Endpoint) Providers(name string) []model.DeliveryNode {
	e.catMu.RLock()
	defer e.catMu.RUnlock()
	r, ok := e.catalog[name]
	if !ok {
		return nil
	}
	return append([]model.DeliveryNode(nil), r.DeliveryNodes...)
}

func (e *Endpoint) State() State {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.state
}

// handleProbe 调用方 scope 不同则只回答 not in scope, 这不是错误
func (e *Endpoint) handleProbe(ctx context.Context, req *model.CapabilityProbeRequest) (*model.CapabilityProbeResponse, error) {
	if req == nil {
		return &model.CapabilityProbeResponse{InScope: false}, nil
	}
	if req.Caller.Scope != e.identity.Scope {
		logging.Debug(ctx, "capability probe out of scope", zap.String("caller", req.Caller.Name))
		return &model.CapabilityProbeResponse{InScope: false}, nil
	}
	return &model.CapabilityProbeResponse{
		InScope:      true,
		Endpoint:     e.identity,
		Capabilities: e.localRecords(),
		ProbedAt:     e.now(),
	}, nil
}

// Probe asks one peer for its capabilities; any failure is (nil, false).
func (e *Endpoint) Probe(ctx context.Context, address string) (*model.CapabilityProbeResponse, bool) {
	var resp model.CapabilityProbeResponse
	req := &model.CapabilityProbeRequest{Caller: e.identity}
	if err := e.rpc.Call(ctx, address, consts.METHOD_PROBE_CAPABILITIES, req, &resp, e.settings.ProbeTimeout); err != nil {
		var failure *transport.RPCFailure
		if errors.As(err, &failure) && failure.Kind == transport.NoHandler {
			logging.Debug(ctx, "peer has no capability endpoint", zap.String("address", address))
		}
		return nil, false
	}
	return &resp, true
}
