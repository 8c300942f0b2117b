package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/grand-thief-cash/taskmesh/infra/hooks"
)

// LifecycleManager starts components in dependency order and stops them in reverse.
type LifecycleManager struct {
	container   *Container
	hookManager *hooks.Manager
	timeout     time.Duration

	mu      sync.Mutex
	stopped bool
}

func NewLifecycleManager(container *Container) *LifecycleManager {
	return NewLifecycleManagerWithManager(container, hooks.NewManager())
}

func NewLifecycleManagerWithManager(container *Container, hm *hooks.Manager) *LifecycleManager {
	if hm == nil {
		hm = hooks.NewManager()
	}
	return &LifecycleManager{container: container, hookManager: hm, timeout: 30 * time.Second}
}

// SetTimeout 设置单个组件启动/停止超时
func (lm *LifecycleManager) SetTimeout(d time.Duration) { lm.timeout = d }

func (lm *LifecycleManager) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return lm.hookManager.Register(&hooks.Hook{Name: name, Phase: phase, Function: fn, Priority: priority})
}

// StartAll 按依赖顺序启动; 任一组件失败时回滚已启动组件
func (lm *LifecycleManager) StartAll(ctx context.Context) error {
	if err := lm.hookManager.Execute(ctx, hooks.BeforeStart); err != nil {
		return fmt.Errorf("before_start hooks failed: %w", err)
	}
	components, err := lm.container.ValidateDependencies()
	if err != nil {
		return fmt.Errorf("failed to order components: %w", err)
	}
	for i, comp := range components {
		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := comp.Start(startCtx)
		cancel()
		if err != nil {
			log.Printf("failed to start component %s: %v", comp.Name(), err)
			lm.stopRange(context.Background(), components[:i])
			return fmt.Errorf("failed to start component %s: %w", comp.Name(), err)
		}
		log.Printf("component %s started", comp.Name())
	}
	if err := lm.hookManager.Execute(ctx, hooks.AfterStart); err != nil {
		log.Printf("after_start hooks failed: %v", err)
	}
	return nil
}

// StopAll 逆序停止所有活跃组件, 只执行一次
func (lm *LifecycleManager) StopAll(ctx context.Context) {
	lm.mu.Lock()
	if lm.stopped {
		lm.mu.Unlock()
		return
	}
	lm.stopped = true
	lm.mu.Unlock()

	if err := lm.hookManager.Execute(ctx, hooks.BeforeShutdown); err != nil {
		log.Printf("before_shutdown hooks failed: %v", err)
	}
	components, err := lm.container.SortComponentsByDependencies()
	if err != nil {
		log.Printf("failed to order components for shutdown: %v", err)
		components = components[:0]
		for _, comp := range lm.container.ListRegistered() {
			components = append(components, comp)
		}
	}
	lm.stopRange(ctx, components)
	if err := lm.hookManager.Execute(ctx, hooks.AfterShutdown); err != nil {
		log.Printf("after_shutdown hooks failed: %v", err)
	}
}

func (lm *LifecycleManager) stopRange(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if !comp.IsActive() {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		if err := comp.Stop(stopCtx); err != nil {
			log.Printf("error stopping component %s: %v", comp.Name(), err)
		}
		cancel()
	}
}
