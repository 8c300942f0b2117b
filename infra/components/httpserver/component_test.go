package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grand-thief-cash/taskmesh/infra/core"
)

type sick struct{ *core.BaseComponent }

func (s *sick) HealthCheck() error { return errors.New("queue store unreachable") }

func TestHealthAggregatesComponents(t *testing.T) {
	c := core.NewContainer()
	healthy := core.NewBaseComponent("logging")
	_ = healthy.Start(context.Background())
	_ = c.Register("logging", healthy)

	hc := NewHTTPServerComponent(&HTTPServerConfig{Enabled: true, EnableHealth: true}, c)
	h, err := hc.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	_ = c.Register("offload", &sick{core.NewBaseComponent("offload")})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "queue store unreachable") {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}
