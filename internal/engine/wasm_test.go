package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

// emptyModule is the smallest valid module: magic and version only.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestWasmRunnerLoad(t *testing.T) {
	ctx := context.Background()
	r, err := NewWasmRunner(ctx, 16, time.Second)
	if err != nil {
		t.Fatalf("NewWasmRunner() error = %v", err)
	}
	defer r.Close(ctx)

	if err := r.Load(ctx, "empty", emptyModule, ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := r.Call(ctx, "empty", "missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Call() error = %v, want ErrUnknownFunction", err)
	}
}

func TestWasmRunnerRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	r, err := NewWasmRunner(ctx, 16, time.Second)
	if err != nil {
		t.Fatalf("NewWasmRunner() error = %v", err)
	}
	defer r.Close(ctx)

	if err := r.Load(ctx, "junk", []byte("not a module"), ""); err == nil {
		t.Fatal("invalid bytes must fail compilation")
	}
	if _, err := r.Call(ctx, "junk", "run", nil); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("Call() after failed load error = %v, want ErrUnknownModule", err)
	}
}

func TestWasmParams(t *testing.T) {
	params, err := wasmParams([]any{uint64(1), int64(2), 3, float64(4), true})
	if err != nil {
		t.Fatalf("wasmParams() error = %v", err)
	}
	want := []uint64{1, 2, 3, 4, 1}
	for i, p := range params {
		if p != want[i] {
			t.Errorf("params[%d] = %d, want %d", i, p, want[i])
		}
	}

	if _, err := wasmParams([]any{"text"}); err == nil {
		t.Error("string argument must be rejected")
	}
}
