package httpserver

import (
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// RouteRegisterFunc mounts routes; the container lets handlers resolve components.
type RouteRegisterFunc func(r chi.Router, c *core.Container) error

var (
	regMu      sync.RWMutex
	registrars []RouteRegisterFunc
)

func RegisterRoutes(fn RouteRegisterFunc) {
	if fn == nil {
		return
	}
	regMu.Lock()
	registrars = append(registrars, fn)
	regMu.Unlock()
}

func snapshot() []RouteRegisterFunc {
	regMu.RLock()
	defer regMu.RUnlock()
	return append([]RouteRegisterFunc(nil), registrars...)
}
