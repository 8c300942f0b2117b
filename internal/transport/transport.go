package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/membership"
	"github.com/grand-thief-cash/taskmesh/internal/wire"
)

// RPCClient 单播调用, capability 与 distribution 只依赖这个接口
type RPCClient interface {
	Call(ctx context.Context, address, method string, args, reply any, timeout time.Duration) error
	CandidateAddress(ctx context.Context, service string) (string, bool)
}

// ConnPool is satisfied by the grpc_clients component.
type ConnPool interface {
	Conn(address string) (*grpc.ClientConn, error)
}

type metrics struct {
	issued  *prometheus.CounterVec
	failed  *prometheus.CounterVec
	handled *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_calls_issued_total", Help: "Cluster RPC calls issued by this node.",
		}, []string{"method"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_calls_failed_total", Help: "Cluster RPC calls that failed.",
		}, []string{"method"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_calls_handled_total", Help: "Cluster RPC calls handled by this node.",
		}, []string{"method"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.issued, m.failed, m.handled} {
			if err := reg.Register(c); err != nil {
				logging.Warn(context.Background(), "rpc metric not registered", zap.Error(err))
			}
		}
	}
	return m
}

// ClusterTransport 按逻辑服务名解析地址并发起一元调用. 不做重试.
type ClusterTransport struct {
	*core.BaseComponent
	members     membership.Provider
	pool        ConnPool
	codec       string
	callTimeout time.Duration

	dispatcher *wire.Dispatcher
	metrics    *metrics
	unsub      func()
}

func NewClusterTransport(members membership.Provider, pool ConnPool, codec string, callTimeout time.Duration, reg prometheus.Registerer) *ClusterTransport {
	if codec == "" {
		codec = consts.CODEC_JSON
	}
	if callTimeout <= 0 {
		callTimeout = 2 * time.Second
	}
	t := &ClusterTransport{
		BaseComponent: core.NewBaseComponent(consts.COMP_TRANSPORT),
		members:       members,
		pool:          pool,
		codec:         codec,
		callTimeout:   callTimeout,
		metrics:       newMetrics(reg),
	}
	t.dispatcher = wire.NewDispatcher(func(method string) { t.metrics.handled.WithLabelValues(method).Inc() })
	return t
}

// Start 成员离开时关闭到该地址的连接
func (t *ClusterTransport) Start(ctx context.Context) error {
	if t.members != nil {
		if ev, ok := t.pool.(interface{ Evict(string) }); ok {
			t.unsub = t.members.Subscribe(func(e membership.Event) {
				if e.Kind == membership.PeerLeft && e.Member.Address != "" {
					ev.Evict(e.Member.Address)
				}
			})
		}
	}
	return t.BaseComponent.Start(ctx)
}

func (t *ClusterTransport) Stop(ctx context.Context) error {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	return t.BaseComponent.Stop(ctx)
}

// Handle registers server-side methods; must happen before the grpc server starts.
func (t *ClusterTransport) Handle(methods ...wire.Method) { t.dispatcher.Handle(methods...) }

// Register attaches the cluster service to a gRPC server.
func (t *ClusterTransport) Register(s grpc.ServiceRegistrar) { t.dispatcher.Register(s) }

// ResolveAddresses 解析失败或未知服务都返回空列表
func (t *ClusterTransport) ResolveAddresses(ctx context.Context, service string) []string {
	if service == "" || t.members == nil {
		return nil
	}
	addrs, err := t.members.Resolve(ctx, service)
	if err != nil {
		logging.Warn(ctx, "resolve service failed", zap.String("service", service), zap.Error(err))
		return nil
	}
	return addrs
}

// CandidateAddress 取成员顺序中的第一个地址
func (t *ClusterTransport) CandidateAddress(ctx context.Context, service string) (string, bool) {
	addrs := t.ResolveAddresses(ctx, service)
	if len(addrs) == 0 {
		return "", false
	}
	return addrs[0], true
}

// Call 同步单播, timeout<=0 时使用默认超时. 失败总是 *RPCFailure.
func (t *ClusterTransport) Call(ctx context.Context, address, method string, args, reply any, timeout time.Duration) (err error) {
	t.metrics.issued.WithLabelValues(method).Inc()
	defer func() {
		if err != nil {
			t.metrics.failed.WithLabelValues(method).Inc()
			logging.Debug(ctx, "rpc call failed", zap.String("method", method), zap.String("address", address), zap.Error(err))
		}
	}()
	if timeout <= 0 {
		timeout = t.callTimeout
	}
	if t.pool == nil {
		return &RPCFailure{Kind: Transport, Method: method, Address: address, Err: errors.New("no connection pool")}
	}
	conn, cerr := t.pool.Conn(address)
	if cerr != nil {
		return &RPCFailure{Kind: Transport, Method: method, Address: address, Err: cerr}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if ierr := conn.Invoke(callCtx, wire.FullMethod(method), args, reply, grpc.CallContentSubtype(t.codec)); ierr != nil {
		kind := Transport
		if status.Code(ierr) == codes.Unimplemented {
			kind = NoHandler
		}
		return &RPCFailure{Kind: kind, Method: method, Address: address, Err: ierr}
	}
	return nil
}

func (t *ClusterTransport) HealthCheck() error {
	if err := t.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if t.members == nil {
		return fmt.Errorf("cluster transport has no membership provider")
	}
	return nil
}
