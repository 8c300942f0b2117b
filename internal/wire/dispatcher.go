package wire

import (
	"context"
	"sort"
	"sync"

	"google.golang.org/grpc"
)

const ServiceName = "taskmesh.v1.ClusterRPC"

// FullMethod returns the gRPC path of a cluster method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Method 一个一元 RPC 方法
type Method struct {
	Name    string
	handler grpc.MethodHandler
}

// Unary builds a method from a typed handler. Req is decoded with the codec
// selected by the caller's content-subtype.
func Unary[Req, Resp any](name string, fn func(ctx context.Context, req *Req) (*Resp, error)) Method {
	return Method{
		Name: name,
		handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if d, ok := srv.(*Dispatcher); ok && d.onHandle != nil {
				d.onHandle(name)
			}
			if interceptor == nil {
				return fn(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return fn(ctx, r.(*Req))
			})
		},
	}
}

// ClusterRPCServer is the handler type of the service descriptor.
type ClusterRPCServer interface {
	MethodNames() []string
}

// Dispatcher 收集各组件注册的方法, 生成 grpc.ServiceDesc.
// 未注册的方法由 grpc 返回 Unimplemented.
type Dispatcher struct {
	onHandle func(method string)

	mu      sync.RWMutex
	methods map[string]Method
}

func NewDispatcher(onHandle func(method string)) *Dispatcher {
	return &Dispatcher{onHandle: onHandle, methods: make(map[string]Method)}
}

// Handle 同名方法后注册的覆盖先注册的
func (d *Dispatcher) Handle(methods ...Method) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range methods {
		if m.Name == "" || m.handler == nil {
			continue
		}
		d.methods[m.Name] = m
	}
}

func (d *Dispatcher) MethodNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.methods))
	for n := range d.methods {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ServiceDesc snapshots the registered methods.
func (d *Dispatcher) ServiceDesc() *grpc.ServiceDesc {
	names := d.MethodNames()
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ClusterRPCServer)(nil),
		Metadata:    "taskmesh/v1/cluster_rpc",
	}
	for _, n := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: n, Handler: d.methods[n].handler})
	}
	return desc
}

// Register attaches the service to a gRPC server.
func (d *Dispatcher) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(d.ServiceDesc(), d)
}
