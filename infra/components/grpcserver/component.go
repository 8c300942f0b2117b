package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

type GRPCServerComponent struct {
	*core.BaseComponent
	cfg       *Config
	container *core.Container

	mu        sync.Mutex
	server    *grpc.Server
	lis       net.Listener
	healthSrv *health.Server
	serveDone chan struct{}
}

func NewGRPCServerComponent(cfg *Config, c *core.Container) *GRPCServerComponent {
	return &GRPCServerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GRPC_SERVER, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		container:     c,
	}
}

// UseListener replaces the TCP listener, e.g. with a bufconn listener in tests.
// Must be called before Start.
func (gc *GRPCServerComponent) UseListener(lis net.Listener) {
	gc.mu.Lock()
	gc.lis = lis
	gc.mu.Unlock()
}

func (gc *GRPCServerComponent) Start(ctx context.Context) error {
	if gc.cfg == nil || !gc.cfg.Enabled {
		return errors.New("grpc_server is disabled")
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(gc.cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(gc.cfg.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(unaryInterceptors()...),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	if gc.cfg.EnableHealth {
		gc.healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(srv, gc.healthSrv)
		gc.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
	if gc.cfg.EnableReflection {
		reflection.Register(srv)
	}
	for _, r := range snapshot() {
		if err := r(srv, gc.container); err != nil {
			return fmt.Errorf("grpc service register failed: %w", err)
		}
	}

	if gc.lis == nil {
		lis, err := net.Listen("tcp", gc.cfg.Address)
		if err != nil {
			return fmt.Errorf("listen %s failed: %w", gc.cfg.Address, err)
		}
		gc.lis = lis
	}
	gc.server = srv
	gc.serveDone = make(chan struct{})
	lis, done := gc.lis, gc.serveDone
	go func() {
		defer close(done)
		logging.Infof(context.Background(), "grpc_server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Errorf(context.Background(), "grpc_server serve error: %v", err)
		}
	}()
	return gc.BaseComponent.Start(ctx)
}

// Addr 返回实际监听地址 (":0" 时有用)
func (gc *GRPCServerComponent) Addr() string {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.lis == nil {
		return gc.cfg.Address
	}
	return gc.lis.Addr().String()
}

func (gc *GRPCServerComponent) Stop(ctx context.Context) error {
	gc.mu.Lock()
	srv := gc.server
	gc.server, gc.lis = nil, nil
	gc.mu.Unlock()
	if srv == nil {
		return gc.BaseComponent.Stop(ctx)
	}
	if gc.healthSrv != nil {
		gc.healthSrv.Shutdown()
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(gc.cfg.GracefulTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
		logging.Info(ctx, "grpc_server stopped gracefully")
	case <-ctx.Done():
		logging.Warn(ctx, "grpc_server stop context canceled, forcing")
		srv.Stop()
	case <-timer.C:
		logging.Warn(ctx, "grpc_server graceful timeout exceeded, forcing")
		srv.Stop()
	}
	return gc.BaseComponent.Stop(ctx)
}

func (gc *GRPCServerComponent) HealthCheck() error {
	if err := gc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.server == nil {
		return fmt.Errorf("grpc_server not started")
	}
	select {
	case <-gc.serveDone:
		return fmt.Errorf("grpc_server serve loop exited")
	default:
		return nil
	}
}
