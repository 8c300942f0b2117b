package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistererAppliesPrefix(t *testing.T) {
	off := false
	c := NewComponent(&Config{Enabled: true, Namespace: "taskmesh", CollectGoMetrics: &off, CollectProcess: &off})
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rpc_calls_issued_total", Help: "x"}, []string{"method"})
	c.Registerer().MustRegister(cv)
	cv.WithLabelValues("probe").Inc()

	families, err := c.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "taskmesh_rpc_calls_issued_total" {
		t.Fatalf("unexpected families: %v", families)
	}
	if C() != c {
		t.Fatalf("global component not set")
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Address != ":9090" || cfg.Path != "/metrics" || !*cfg.CollectGoMetrics || !*cfg.CollectProcess {
		t.Fatalf("defaults = %+v", cfg)
	}
}
