package registry_ext

import (
	"fmt"
	"sync"

	"github.com/grand-thief-cash/taskmesh/infra/components/grpcclient"
	"github.com/grand-thief-cash/taskmesh/infra/components/prometheus"
	"github.com/grand-thief-cash/taskmesh/infra/components/redis"
	"github.com/grand-thief-cash/taskmesh/infra/config"
	appconsts "github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/infra/registry"
	"github.com/grand-thief-cash/taskmesh/internal/capability"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/membership"
	"github.com/grand-thief-cash/taskmesh/internal/transport"
)

var (
	capMu     sync.Mutex
	localCaps = map[string]capability.LocalFunc{}
)

// RegisterCapability 声明本节点提供的能力, 需在 App 启动前调用
func RegisterCapability(name string, fn capability.LocalFunc) {
	if name == "" || fn == nil {
		return
	}
	capMu.Lock()
	localCaps[name] = fn
	capMu.Unlock()
}

// 集群: 成员, 传输, 能力路由
func init() {
	registry.RegisterWithDeps(consts.COMP_MEMBERSHIP, []string{appconsts.COMPONENT_REDIS}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		self := membership.Member{NodeID: bc.Node.ComponentID, Service: bc.Node.Service, Address: bc.Node.Address}
		if bc.Membership.Provider == "redis" {
			rc, err := core.ResolveAs[*redis.RedisComponent](c, appconsts.COMPONENT_REDIS)
			if err != nil {
				return true, nil, fmt.Errorf("redis membership needs the redis component: %w", err)
			}
			p := membership.NewRedisProvider(rc, self, membership.RedisOptions{
				KeyPrefix: bc.Membership.KeyPrefix,
				Heartbeat: bc.Membership.Heartbeat,
				MemberTTL: bc.Membership.MemberTTL,
			})
			p.AddDependencies(appconsts.COMPONENT_REDIS)
			return true, p, nil
		}
		members := []membership.Member{self}
		for _, peer := range bc.Membership.StaticPeers {
			if peer.NodeID == self.NodeID {
				continue
			}
			members = append(members, membership.Member{NodeID: peer.NodeID, Service: peer.Service, Address: peer.Address})
		}
		return true, membership.NewStaticProvider(members...), nil
	})

	registry.RegisterWithDeps(consts.COMP_TRANSPORT, []string{
		consts.COMP_MEMBERSHIP, appconsts.COMPONENT_GRPC_CLIENTS, appconsts.COMPONENT_PROMETHEUS,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		members, err := core.ResolveAs[membership.Provider](c, consts.COMP_MEMBERSHIP)
		if err != nil {
			return true, nil, fmt.Errorf("resolve membership failed: %w", err)
		}
		pool, err := core.ResolveAs[*grpcclient.GRPCClientComponent](c, appconsts.COMPONENT_GRPC_CLIENTS)
		if err != nil {
			return true, nil, fmt.Errorf("cluster transport needs grpc_clients: %w", err)
		}
		t := transport.NewClusterTransport(members, pool, bc.Transport.Codec, bc.Transport.CallTimeout, prometheus.RegistererOrDefault())
		t.AddDependencies(consts.COMP_MEMBERSHIP, appconsts.COMPONENT_GRPC_CLIENTS)
		return true, t, nil
	})

	registry.RegisterWithDeps(consts.COMP_CAPABILITY, []string{consts.COMP_TRANSPORT, consts.COMP_MEMBERSHIP}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		t, err := core.ResolveAs[*transport.ClusterTransport](c, consts.COMP_TRANSPORT)
		if err != nil {
			return true, nil, fmt.Errorf("resolve cluster_transport failed: %w", err)
		}
		members, err := core.ResolveAs[membership.Provider](c, consts.COMP_MEMBERSHIP)
		if err != nil {
			return true, nil, fmt.Errorf("resolve membership failed: %w", err)
		}
		ep := capability.NewEndpoint(identity(bc), members, t, capability.Settings{
			InitialDelay: bc.Scan.InitialDelay,
			Period:       bc.Scan.Period,
			MaxAttempts:  bc.Scan.MaxAttempts,
			Parallelism:  bc.Scan.Parallelism,
			ProbeTimeout: bc.Transport.CallTimeout,
			Required:     bc.Scan.RequiredCapabilities,
		})
		capMu.Lock()
		for name, fn := range localCaps {
			ep.RegisterCapability(name, fn)
		}
		capMu.Unlock()
		t.Handle(ep.Methods()...)
		return true, ep, nil
	})
}
