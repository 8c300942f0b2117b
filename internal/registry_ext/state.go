package registry_ext

import (
	"github.com/grand-thief-cash/taskmesh/infra/components/prometheus"
	"github.com/grand-thief-cash/taskmesh/infra/config"
	appconsts "github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/infra/registry"
	"github.com/grand-thief-cash/taskmesh/internal/audit"
	"github.com/grand-thief-cash/taskmesh/internal/cache"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
	"github.com/grand-thief-cash/taskmesh/internal/participant"
	"github.com/grand-thief-cash/taskmesh/internal/queue"
)

// 本地状态: 队列, 任务缓存, 参与者注册表, 审计
func init() {
	// queue_size 指标需要 prometheus 先构建
	registry.RegisterWithDeps(consts.COMP_QUEUE_SET, []string{appconsts.COMPONENT_PROMETHEUS}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if _, err := nodeConfig(cfg); err != nil {
			return true, nil, err
		}
		return true, queue.NewQueueSet(prometheus.RegistererOrDefault()), nil
	})

	registry.Register(consts.COMP_TASK_CACHE, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, cache.NewTaskCache(bc.Node.ParticipantName), nil
	})

	// 注册表里总有本节点自己
	registry.Register(consts.COMP_PARTICIPANT_REGISTRY, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc, err := nodeConfig(cfg)
		if err != nil {
			return true, nil, err
		}
		reg := participant.NewRegistry(bc.Node.ParticipantName)
		reg.Upsert(model.ParticipantRegistration{
			Participant: model.Participant{
				Name:          bc.Node.ParticipantName,
				ComponentID:   bc.Node.ComponentID,
				ComponentKind: bc.Node.ComponentKind,
				ServiceName:   bc.Node.Service,
			},
			LocalComponentID:     bc.Node.ComponentID,
			ComponentStatus:      consts.ComponentRunning,
			ParticipantStatus:    consts.ParticipantActive,
			ControlStatus:        consts.ControlEnabled,
			InstanceComponentIDs: []string{bc.Node.ComponentID},
		})
		return true, reg, nil
	})

	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, audit.NewLoggingSink(), nil
	})
}
