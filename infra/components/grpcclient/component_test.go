package grpcclient

import (
	"context"
	"testing"
	"time"
)

func TestConnIsPooledPerAddress(t *testing.T) {
	gc := NewGRPCClientComponent(&GRPCClientsConfig{Enabled: true})
	if err := gc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer gc.Stop(context.Background())

	a1, err := gc.Conn("127.0.0.1:7001")
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	a2, _ := gc.Conn("127.0.0.1:7001")
	if a1 != a2 {
		t.Fatalf("expected pooled connection to be reused")
	}
	if _, err := gc.Conn("127.0.0.1:7002"); err != nil {
		t.Fatalf("Conn: %v", err)
	}
	if n := len(gc.Addresses()); n != 2 {
		t.Fatalf("pool size = %d", n)
	}

	gc.Evict("127.0.0.1:7001")
	a3, _ := gc.Conn("127.0.0.1:7001")
	if a3 == a1 {
		t.Fatalf("evicted connection should be replaced")
	}
}

func TestConnRejectsEmptyAddress(t *testing.T) {
	gc := NewGRPCClientComponent(nil)
	if _, err := gc.Conn(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaults(t *testing.T) {
	gc := NewGRPCClientComponent(&GRPCClientsConfig{})
	if gc.DefaultTimeout() != 5*time.Second {
		t.Fatalf("default timeout = %v", gc.DefaultTimeout())
	}
}
