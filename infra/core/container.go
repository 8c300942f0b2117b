package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Container 组件容器, 按名称保存组件
type Container struct {
	mu         sync.RWMutex
	components map[string]Component
}

func NewContainer() *Container {
	return &Container{components: make(map[string]Component)}
}

func (c *Container) Register(name string, component Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	c.components[name] = component
	return nil
}

func (c *Container) Resolve(name string) (Component, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[name]
	if !ok {
		return nil, fmt.Errorf("component %s not found", name)
	}
	return comp, nil
}

// ResolveAs resolves a component and asserts its concrete type.
func ResolveAs[T any](c *Container, name string) (T, error) {
	var zero T
	comp, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := comp.(T)
	if !ok {
		return zero, fmt.Errorf("component %s has type %T, want %T", name, comp, zero)
	}
	return typed, nil
}

func (c *Container) ListRegistered() map[string]Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		out[k] = v
	}
	return out
}

// Replace 替换尚未启动的组件 (测试用)
func (c *Container) Replace(name string, component Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.components[name]
	if !ok {
		return fmt.Errorf("component %s not registered", name)
	}
	if existing.IsActive() {
		return fmt.Errorf("component %s is active; cannot replace", name)
	}
	c.components[name] = component
	return nil
}

// SortComponentsByDependencies returns components in start order. Names are
// visited alphabetically so the order is stable across runs.
func (c *Container) SortComponentsByDependencies() ([]Component, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.components))
	ordered := make([]Component, 0, len(c.components))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("circular dependency: %s", strings.Join(append(path, name), " -> "))
		}
		comp, ok := c.components[name]
		if !ok {
			return fmt.Errorf("component %s not found", name)
		}
		state[name] = visiting
		for _, dep := range comp.Dependencies() {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, comp)
		return nil
	}

	names := make([]string, 0, len(c.components))
	for n := range c.components {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// ValidateDependencies 检查依赖是否全部注册并做环检测
func (c *Container) ValidateDependencies() ([]Component, error) {
	c.mu.RLock()
	var missing []string
	for name, comp := range c.components {
		for _, dep := range comp.Dependencies() {
			if _, ok := c.components[dep]; !ok {
				missing = append(missing, fmt.Sprintf("%s -> %s", name, dep))
			}
		}
	}
	c.mu.RUnlock()
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing component dependencies: %s", strings.Join(missing, "; "))
	}
	return c.SortComponentsByDependencies()
}
