package grpcclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// GRPCClientComponent keeps one client connection per peer address.
type GRPCClientComponent struct {
	*core.BaseComponent
	cfg       *GRPCClientsConfig
	extraOpts []grpc.DialOption

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewGRPCClientComponent(cfg *GRPCClientsConfig, extra ...grpc.DialOption) *GRPCClientComponent {
	if cfg == nil {
		cfg = &GRPCClientsConfig{Enabled: true}
	}
	ApplyDefaults(cfg)
	return &GRPCClientComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GRPC_CLIENTS, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		extraOpts:     extra,
		conns:         make(map[string]*grpc.ClientConn),
	}
}

func (gc *GRPCClientComponent) Start(ctx context.Context) error {
	if gc.cfg.EnableHealthCheck {
		gc.stop = make(chan struct{})
		gc.wg.Add(1)
		go gc.healthLoop()
	}
	return gc.BaseComponent.Start(ctx)
}

func (gc *GRPCClientComponent) Stop(ctx context.Context) error {
	if gc.stop != nil {
		close(gc.stop)
		gc.wg.Wait()
		gc.stop = nil
	}
	gc.mu.Lock()
	for addr, conn := range gc.conns {
		if err := conn.Close(); err != nil {
			logging.Warn(ctx, "close peer connection failed", zap.String("address", addr), zap.Error(err))
		}
	}
	gc.conns = make(map[string]*grpc.ClientConn)
	gc.mu.Unlock()
	return gc.BaseComponent.Stop(ctx)
}

// DefaultTimeout is applied by callers that pass no explicit timeout.
func (gc *GRPCClientComponent) DefaultTimeout() time.Duration { return gc.cfg.DefaultTimeout }

// Conn returns the pooled connection for address, creating it on first use.
// grpc.NewClient does not dial; the first RPC establishes the transport.
func (gc *GRPCClientComponent) Conn(address string) (*grpc.ClientConn, error) {
	if address == "" {
		return nil, fmt.Errorf("empty peer address")
	}
	gc.mu.RLock()
	conn, ok := gc.conns[address]
	gc.mu.RUnlock()
	if ok && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()
	if conn, ok := gc.conns[address]; ok && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}
	opts, err := gc.dialOptions(address)
	if err != nil {
		return nil, err
	}
	conn, err = grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", address, err)
	}
	gc.conns[address] = conn
	return conn, nil
}

// Evict 关闭并移除某个地址的连接, 成员离开时调用
func (gc *GRPCClientComponent) Evict(address string) {
	gc.mu.Lock()
	conn, ok := gc.conns[address]
	delete(gc.conns, address)
	gc.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Addresses lists addresses with a pooled connection.
func (gc *GRPCClientComponent) Addresses() []string {
	gc.mu.RLock()
	defer gc.mu.RUnlock()
	out := make([]string, 0, len(gc.conns))
	for a := range gc.conns {
		out = append(out, a)
	}
	return out
}

func (gc *GRPCClientComponent) dialOptions(address string) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(gc.cfg.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(gc.cfg.MaxSendMsgSize),
		),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(traceIDPropagator),
	}
	if ka := gc.cfg.Keepalive; ka != nil {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                ka.Time,
			Timeout:             ka.Timeout,
			PermitWithoutStream: ka.PermitWithoutStream,
		}))
	}
	if gc.cfg.Secure {
		creds, err := gc.credentials(address)
		if err != nil {
			return nil, fmt.Errorf("build credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return append(opts, gc.extraOpts...), nil
}

func (gc *GRPCClientComponent) credentials(address string) (credentials.TransportCredentials, error) {
	if gc.cfg.CredentialsPath != "" {
		return credentials.NewClientTLSFromFile(gc.cfg.CredentialsPath, "")
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
}

func (gc *GRPCClientComponent) healthLoop() {
	defer gc.wg.Done()
	ticker := time.NewTicker(gc.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gc.stop:
			return
		case <-ticker.C:
			gc.sweepBroken()
		}
	}
}

// sweepBroken drops connections stuck in TransientFailure or Shutdown so the
// next Conn call starts fresh.
func (gc *GRPCClientComponent) sweepBroken() {
	gc.mu.Lock()
	var broken []*grpc.ClientConn
	for addr, conn := range gc.conns {
		switch conn.GetState() {
		case connectivity.TransientFailure, connectivity.Shutdown:
			logging.Info(context.Background(), "dropping unhealthy peer connection", zap.String("address", addr))
			broken = append(broken, conn)
			delete(gc.conns, addr)
		}
	}
	gc.mu.Unlock()
	for _, c := range broken {
		_ = c.Close()
	}
}

func traceIDPropagator(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if id := logging.TraceIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, consts.KEY_TraceID, id)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
