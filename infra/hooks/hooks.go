package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HookFunc 生命周期钩子函数
type HookFunc func(ctx context.Context) error

// Phase 生命周期阶段
type Phase string

const (
	BeforeStart    Phase = "before_start"
	AfterStart     Phase = "after_start"
	BeforeShutdown Phase = "before_shutdown"
	AfterShutdown  Phase = "after_shutdown"
)

var validPhases = map[Phase]struct{}{
	BeforeStart:    {},
	AfterStart:     {},
	BeforeShutdown: {},
	AfterShutdown:  {},
}

// Hook 钩子定义. Priority 越小越先执行.
type Hook struct {
	Name     string
	Phase    Phase
	Function HookFunc
	Priority int
}

// Manager keeps hooks per phase, ordered by priority.
type Manager struct {
	mu    sync.RWMutex
	hooks map[Phase][]*Hook
}

func NewManager() *Manager {
	return &Manager{hooks: make(map[Phase][]*Hook)}
}

func (m *Manager) Register(h *Hook) error {
	if h == nil || h.Function == nil {
		return fmt.Errorf("hook and hook function are required")
	}
	if _, ok := validPhases[h.Phase]; !ok {
		return fmt.Errorf("invalid hook phase: %s", h.Phase)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.hooks[h.Phase], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	m.hooks[h.Phase] = list
	return nil
}

// Execute runs the hooks of one phase and stops at the first failure.
func (m *Manager) Execute(ctx context.Context, phase Phase) error {
	m.mu.RLock()
	list := make([]*Hook, len(m.hooks[phase]))
	copy(list, m.hooks[phase])
	m.mu.RUnlock()

	for _, h := range list {
		if err := h.Function(ctx); err != nil {
			return fmt.Errorf("hook %s failed: %w", h.Name, err)
		}
	}
	return nil
}

// Count 返回某阶段已注册的钩子数量
func (m *Manager) Count(phase Phase) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[phase])
}
