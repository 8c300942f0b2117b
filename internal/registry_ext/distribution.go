package registry_ext

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/grand-thief-cash/taskmesh/infra/components/gormdb"
	"github.com/grand-thief-cash/taskmesh/infra/components/grpcserver"
	"github.com/grand-thief-cash/taskmesh/infra/components/prometheus"
	"github.com/grand-thief-cash/taskmesh/infra/config"
	appconsts "github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/infra/registry"
	"github.com/grand-thief-cash/taskmesh/internal/api"
	"github.com/grand-thief-cash/taskmesh/internal/audit"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/capability"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/distribution"
	"github.com/grand-thief-cash/taskmesh/internal/offload"
	"github.com/grand-thief-cash/taskmesh/internal/participant"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
	"github.com/grand-thief-cash/taskmesh/internal/transport"
)

func init() {
	// grpc/http server 在业务组件之后启动, 停止时先停
	registry.ExtendRuntimeDependencies(appconsts.COMPONENT_GRPC_SERVER, consts.COMP_TRANSPORT, consts.COMP_CAPABILITY, consts.COMP_DISTRIBUTION, consts.COMP_OFFLOAD_SWEEPER)
	registry.ExtendRuntimeDependencies(appconsts.COMPONENT_HTTP_SERVER, consts.COMP_CTRL_ADMIN)

	grpcserver.RegisterService(func(s grpc.ServiceRegistrar, c *core.Container) error {
		t, err := core.ResolveAs[*transport.ClusterTransport](c, consts.COMP_TRANSPORT)
		if err != nil {
			return fmt.Errorf("resolve cluster_transport failed: %w", err)
		}
		t.Register(s)
		return nil
	})

	registry.RegisterWithDeps(consts.COMP_DISTRIBUTION, []string{
		consts.COMP_TASK_CACHE, consts.COMP_QUEUE_SET, consts.COMP_PARTICIPANT_REGISTRY,
		consts.COMP_TRANSPORT, consts.COMP_CAPABILITY, consts.COMP_AUDIT_SINK,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		var d distribution.Deps
		if d.Cache, err = core.ResolveAs[*cache.TaskCache](c, consts.COMP_TASK_CACHE); err != nil {
			return true, nil, err
		}
		if d.Queues, err = core.ResolveAs[*queue.QueueSet](c, consts.COMP_QUEUE_SET); err != nil {
			return true, nil, err
		}
		if d.Registry, err = core.ResolveAs[*participant.Registry](c, consts.COMP_PARTICIPANT_REGISTRY); err != nil {
			return true, nil, err
		}
		t, err := core.ResolveAs[*transport.ClusterTransport](c, consts.COMP_TRANSPORT)
		if err != nil {
			return true, nil, err
		}
		d.RPC = t
		if d.Capabilities, err = core.ResolveAs[*capability.Endpoint](c, consts.COMP_CAPABILITY); err != nil {
			return true, nil, err
		}
		if d.Audit, err = core.ResolveAs[audit.Sink](c, consts.COMP_AUDIT_SINK); err != nil {
			return true, nil, err
		}
		m := distribution.NewManager(identity(bc), bc.Transport.CallTimeout, d)
		t.Handle(m.Methods()...)
		return true, m, nil
	})

	// 只有启用了 gorm 才有中心存储
	registry.RegisterWithDeps(consts.COMP_OFFLOAD_STORE, []string{appconsts.COMPONENT_GORM}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		if !bc.Sweep.Enabled || cfg.Gorm == nil || !cfg.Gorm.Enabled {
			return false, nil, nil
		}
		g, err := core.ResolveAs[*gormdb.GormComponent](c, appconsts.COMPONENT_GORM)
		if err != nil {
			return true, nil, fmt.Errorf("resolve gorm failed: %w", err)
		}
		return true, offload.NewStore(g, bc.Sweep.DataSource), nil
	})

	registry.RegisterWithDeps(consts.COMP_OFFLOAD_SWEEPER, []string{
		consts.COMP_QUEUE_SET, consts.COMP_TASK_CACHE, consts.COMP_DISTRIBUTION, consts.COMP_OFFLOAD_STORE, appconsts.COMPONENT_PROMETHEUS,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		if !bc.Sweep.Enabled {
			return false, nil, nil
		}
		qs, err := core.ResolveAs[*queue.QueueSet](c, consts.COMP_QUEUE_SET)
		if err != nil {
			return true, nil, err
		}
		tc, err := core.ResolveAs[*cache.TaskCache](c, consts.COMP_TASK_CACHE)
		if err != nil {
			return true, nil, err
		}
		m, err := core.ResolveAs[*distribution.Manager](c, consts.COMP_DISTRIBUTION)
		if err != nil {
			return true, nil, err
		}
		var store offload.EntryStore
		if s, err := core.ResolveAs[*offload.Store](c, consts.COMP_OFFLOAD_STORE); err == nil {
			store = s
		}
		sw := offload.NewSweeper(offload.Settings{
			Interval:         bc.Sweep.Interval,
			OffloadThreshold: bc.Queue.OffloadThreshold,
			OnloadThreshold:  bc.Queue.OnloadThreshold,
			Batch:            bc.Queue.OffloadBatch,
		}, qs, tc, m, store, prometheus.RegistererOrDefault())
		if store != nil {
			sw.AddDependencies(consts.COMP_OFFLOAD_STORE)
		}
		return true, sw, nil
	})

	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, api.NewAdminController(), nil
	})
}
