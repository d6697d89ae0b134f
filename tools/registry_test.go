package tools

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	tool := &Tool{
		Name: "echo",
		Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			return input["value"], nil
		},
	}

	if err := r.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Register(tool); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("duplicate Register error = %v, want ErrDuplicateTool", err)
	}

	got, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "echo" {
		t.Errorf("Get returned tool %q", got.Name)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryExecuteWrapsToolFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(&Tool{
		Name: "failing",
		Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			return nil, boom
		},
	})

	_, err := r.Execute(context.Background(), "failing", nil, Context{})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	if execErr.Tool != "failing" || !errors.Is(err, boom) {
		t.Errorf("wrapped error lost detail: %v", err)
	}
}

func TestRegistryDefinitionsStableOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&Tool{Name: name, Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
			return nil, nil
		}})
	}

	defs := r.Definitions()
	want := []string{"alpha", "mid", "zeta"}
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, name)
		}
	}
}

func TestRegistryNeedsApproval(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "gated", NeedsApproval: true, Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
		return nil, nil
	}})
	r.Register(&Tool{Name: "open", Execute: func(ctx context.Context, input map[string]any, tc Context) (any, error) {
		return nil, nil
	}})

	if !r.NeedsApproval("gated") {
		t.Error("gated tool should need approval")
	}
	if r.NeedsApproval("open") {
		t.Error("open tool should not need approval")
	}
	if r.NeedsApproval("unknown") {
		t.Error("unknown tool should not report approval")
	}
}
