package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestExecuteOrdersByPriority(t *testing.T) {
	m := NewManager()
	var order []string
	add := func(name string, prio int) {
		if err := m.Register(&Hook{Name: name, Phase: AfterStart, Priority: prio, Function: func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	add("late", 50)
	add("early", 1)
	add("mid", 10)

	if err := m.Execute(context.Background(), AfterStart); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{"early", "mid", "late"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	m := NewManager()
	ran := false
	_ = m.Register(&Hook{Name: "boom", Phase: BeforeStart, Priority: 1, Function: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	_ = m.Register(&Hook{Name: "after", Phase: BeforeStart, Priority: 2, Function: func(ctx context.Context) error {
		ran = true
		return nil
	}})
	if err := m.Execute(context.Background(), BeforeStart); err == nil {
		t.Fatalf("expected error")
	}
	if ran {
		t.Fatalf("hook after failure should not run")
	}
}

func TestRegisterRejectsInvalidPhase(t *testing.T) {
	m := NewManager()
	err := m.Register(&Hook{Name: "x", Phase: Phase("middle"), Function: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected invalid phase error")
	}
	if m.Count(Phase("middle")) != 0 {
		t.Fatalf("invalid hook should not be stored")
	}
}
