package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScriptRunnerCallLimits(t *testing.T) {
	r := NewScriptRunner(100 * time.Millisecond)
	if err := r.Load(context.Background(), "spin", []byte(`function forever() { while (true) {} }`), ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	start := time.Now()
	_, err := r.Call(context.Background(), "spin", "forever", nil)
	if err == nil {
		t.Fatal("unbounded loop must be interrupted")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("interrupt took %s, limit was 100ms", elapsed)
	}
}

func TestScriptRunnerNeuteredGlobals(t *testing.T) {
	r := NewScriptRunner(time.Second)
	source := `function probe() { return typeof process + ":" + typeof require; }`
	if err := r.Load(context.Background(), "probe", []byte(source), ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	result, err := r.Call(context.Background(), "probe", "probe", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	got, _ := result.Value.(string)
	if got != "undefined:undefined" {
		t.Errorf("host globals visible in sandbox: %q", got)
	}
}

func TestScriptRunnerUnknownTargets(t *testing.T) {
	r := NewScriptRunner(time.Second)
	if _, err := r.Call(context.Background(), "none", "fn", nil); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("Call() error = %v, want ErrUnknownModule", err)
	}

	if err := r.Load(context.Background(), "m", []byte(`var x = 1;`), ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := r.Call(context.Background(), "m", "missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Call() error = %v, want ErrUnknownFunction", err)
	}
}

func TestScriptRunnerLoadError(t *testing.T) {
	r := NewScriptRunner(time.Second)
	err := r.Load(context.Background(), "bad", []byte(`function {`), "")
	if err == nil {
		t.Fatal("syntax error must fail the load")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("load error %q does not name the module", err)
	}
}
