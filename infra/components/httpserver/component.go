package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

type HTTPServerComponent struct {
	*core.BaseComponent
	cfg       *HTTPServerConfig
	container *core.Container

	mu     sync.Mutex
	server *http.Server
}

func NewHTTPServerComponent(cfg *HTTPServerConfig, c *core.Container) *HTTPServerComponent {
	ApplyDefaults(cfg)
	return &HTTPServerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_HTTP_SERVER, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		container:     c,
	}
}

// Handler builds the router with middlewares, health and all registered routes.
func (hc *HTTPServerComponent) Handler() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(otelchi.Middleware(hc.cfg.ServiceName, otelchi.WithChiRoutes(r)))
	r.Use(accessLog)
	if hc.cfg.EnableHealth {
		r.Get("/healthz", hc.health)
	}
	for _, fn := range snapshot() {
		if err := fn(r, hc.container); err != nil {
			return nil, fmt.Errorf("route register failed: %w", err)
		}
	}
	return r, nil
}

func (hc *HTTPServerComponent) Start(ctx context.Context) error {
	h, err := hc.Handler()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", hc.cfg.Address)
	if err != nil {
		return fmt.Errorf("http_server listen %s: %w", hc.cfg.Address, err)
	}
	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  hc.cfg.ReadTimeout,
		WriteTimeout: hc.cfg.WriteTimeout,
		IdleTimeout:  hc.cfg.IdleTimeout,
	}
	hc.mu.Lock()
	hc.server = srv
	hc.mu.Unlock()
	go func() {
		logging.Infof(context.Background(), "http_server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf(context.Background(), "http_server error: %v", err)
		}
	}()
	return hc.BaseComponent.Start(ctx)
}

func (hc *HTTPServerComponent) Stop(ctx context.Context) error {
	defer hc.BaseComponent.Stop(ctx)
	hc.mu.Lock()
	srv := hc.server
	hc.server = nil
	hc.mu.Unlock()
	if srv == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, hc.cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("http_server graceful shutdown failed: %w", err)
	}
	return nil
}

// health reports every registered component; any failure yields 503.
func (hc *HTTPServerComponent) health(w http.ResponseWriter, _ *http.Request) {
	report := map[string]string{}
	code := http.StatusOK
	if hc.container != nil {
		comps := hc.container.ListRegistered()
		names := make([]string, 0, len(comps))
		for n := range comps {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := comps[n].HealthCheck(); err != nil {
				report[n] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			report[n] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			w.Header().Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
		}
		next.ServeHTTP(ww, r)
		logging.Info(r.Context(), "http_access",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)),
		)
	})
}
