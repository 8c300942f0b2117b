package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestStartPingsAndExposesClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := NewRedisComponent(&Config{Enabled: true, Addresses: []string{mr.Addr()}})
	if err := rc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rc.Stop(context.Background())

	if err := rc.HealthCheck(); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rc.Client().Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value = %q", got)
	}
}

func TestStartRejectsSentinelWithoutMaster(t *testing.T) {
	rc := NewRedisComponent(&Config{Enabled: true, Mode: "sentinel"})
	if err := rc.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if rc.IsActive() {
		t.Fatalf("component should not be active")
	}
}
