package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// Component owns a dedicated registry and serves it over HTTP. The registry
// exists from construction so other builders can register collectors before Start.
type Component struct {
	*core.BaseComponent
	cfg      *Config
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
}

func NewComponent(cfg *Config) *Component {
	ApplyDefaults(cfg)
	reg := prometheus.NewRegistry()
	if *cfg.CollectGoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if *cfg.CollectProcess {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c := &Component{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_PROMETHEUS, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		registry:      reg,
	}
	registerGlobal(c)
	return c
}

func (c *Component) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))
	lis, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", c.cfg.Address, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	c.mu.Lock()
	c.server = srv
	c.mu.Unlock()
	go func() {
		logging.Infof(context.Background(), "prometheus metrics listening on %s%s", lis.Addr(), c.cfg.Path)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf(context.Background(), "prometheus server error: %v", err)
		}
	}()
	return c.BaseComponent.Start(ctx)
}

func (c *Component) Stop(ctx context.Context) error {
	defer c.BaseComponent.Stop(ctx)
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("prometheus server shutdown: %w", err)
	}
	return nil
}

// Registerer is what domain packages take; they never see the component.
func (c *Component) Registerer() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix(c.prefix(), c.registry)
}

func (c *Component) Gatherer() prometheus.Gatherer { return c.registry }

func (c *Component) prefix() string {
	switch {
	case c.cfg.Namespace != "" && c.cfg.Subsystem != "":
		return c.cfg.Namespace + "_" + c.cfg.Subsystem + "_"
	case c.cfg.Namespace != "":
		return c.cfg.Namespace + "_"
	case c.cfg.Subsystem != "":
		return c.cfg.Subsystem + "_"
	}
	return ""
}
