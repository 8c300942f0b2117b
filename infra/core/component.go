package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Component 组件生命周期接口
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck() error
	Dependencies() []string
	IsActive() bool
}

// BaseComponent is embedded by every component; it tracks the name, the
// active flag and the start-order dependencies.
type BaseComponent struct {
	name   string
	active atomic.Bool

	depsMu sync.RWMutex
	deps   []string
}

func NewBaseComponent(name string, deps ...string) *BaseComponent {
	return &BaseComponent{name: name, deps: append([]string(nil), deps...)}
}

func (c *BaseComponent) Name() string { return c.name }

func (c *BaseComponent) Dependencies() []string {
	c.depsMu.RLock()
	defer c.depsMu.RUnlock()
	return append([]string(nil), c.deps...)
}

func (c *BaseComponent) IsActive() bool { return c.active.Load() }

func (c *BaseComponent) SetActive(active bool) { c.active.Store(active) }

func (c *BaseComponent) Start(ctx context.Context) error {
	c.SetActive(true)
	return nil
}

func (c *BaseComponent) Stop(ctx context.Context) error {
	c.SetActive(false)
	return nil
}

func (c *BaseComponent) HealthCheck() error {
	if !c.IsActive() {
		return fmt.Errorf("component %s is not active", c.name)
	}
	return nil
}

// AddDependencies 在 StartAll 之前追加启动顺序依赖, 重复项会被忽略
func (c *BaseComponent) AddDependencies(deps ...string) {
	c.depsMu.Lock()
	defer c.depsMu.Unlock()
	for _, d := range deps {
		if d == "" || d == c.name {
			continue
		}
		dup := false
		for _, existing := range c.deps {
			if existing == d {
				dup = true
				break
			}
		}
		if !dup {
			c.deps = append(c.deps, d)
		}
	}
}
