package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMu sync.RWMutex
	global   *Component
)

func registerGlobal(c *Component) {
	globalMu.Lock()
	global = c
	globalMu.Unlock()
}

// C returns the last constructed component, or nil.
func C() *Component {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// RegistererOrDefault 返回组件的 registerer; 未启用 prometheus 时返回一个独立 registry,
// 指标依旧可用但不会被导出
func RegistererOrDefault() prometheus.Registerer {
	if c := C(); c != nil {
		return c.Registerer()
	}
	return prometheus.NewRegistry()
}
