package grpcserver

import (
	"sync"

	"google.golang.org/grpc"

	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// ServiceRegistrar attaches services to the server; the container is passed so
// registrars can resolve the components that back their handlers.
type ServiceRegistrar func(s grpc.ServiceRegistrar, c *core.Container) error

var (
	regMu      sync.RWMutex
	registrars []ServiceRegistrar
)

// RegisterService 通常在 init() 中调用
func RegisterService(fn ServiceRegistrar) {
	if fn == nil {
		return
	}
	regMu.Lock()
	registrars = append(registrars, fn)
	regMu.Unlock()
}

func snapshot() []ServiceRegistrar {
	regMu.RLock()
	defer regMu.RUnlock()
	return append([]ServiceRegistrar(nil), registrars...)
}
