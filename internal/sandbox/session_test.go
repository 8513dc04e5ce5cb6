package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/protocol"
	"github.com/livdocs/engine/internal/security"
)

// sandboxPeer emulates the sandbox side of the wire: it acknowledges module
// loads and answers function calls with a canned result.
func sandboxPeer(end *protocol.PipeEnd) {
	go func() {
		for frame := range end.Receive() {
			var msg protocol.Message
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			var resp *protocol.Message
			switch msg.Kind {
			case protocol.KindControl:
				command, _ := msg.Payload["command"].(string)
				if command == "load_module" {
					resp = protocol.NewResponse(&msg, map[string]any{"loaded": true})
				}
			case protocol.KindFunctionCall:
				function, _ := msg.Payload["function_name"].(string)
				if function == "fail" {
					resp = protocol.NewResponse(&msg, map[string]any{
						"success": false,
						"error":   "division by zero",
					})
				} else {
					resp = protocol.NewResponse(&msg, map[string]any{
						"success":     true,
						"result":      float64(42),
						"memory_used": float64(2048),
					})
				}
			}
			if resp != nil {
				raw, _ := json.Marshal(resp)
				_ = end.Send(context.Background(), raw)
			}
		}
	}()
}

func newTestSession(t *testing.T) (*Session, *protocol.PipeEnd) {
	t.Helper()
	a, b := protocol.NewPipe(16)
	t.Cleanup(func() { a.Close() })

	cfg := protocol.DefaultConfig()
	cfg.ResponseTimeout = time.Second
	tr, err := protocol.New(a, cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("protocol.New() error = %v", err)
	}

	sessionCfg := config.SessionConfig{Timeout: time.Second, MaxMemoryMB: 64}
	return NewSession(tr, security.InteractivePolicy(), sessionCfg, logging.NewNop(), nil), b
}

func loadedDescriptor() ModuleDescriptor {
	return ModuleDescriptor{
		Name:       "chart",
		Version:    "1.0.0",
		EntryPoint: "main",
		Exports:    []string{"render", "update", "fail"},
		Permissions: security.ModulePermissions{
			MemoryLimit:  16 << 20,
			CPUTimeLimit: time.Second,
		},
	}
}

func TestSessionRequiresInitialize(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.LoadModule(context.Background(), []byte{0x00}, loadedDescriptor()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("LoadModule() error = %v, want ErrNotInitialized", err)
	}
	if _, err := s.ExecuteFunction(context.Background(), "chart", "render", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ExecuteFunction() error = %v, want ErrNotInitialized", err)
	}
	if err := s.SendEvent(context.Background(), "click", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SendEvent() error = %v, want ErrNotInitialized", err)
	}
}

func TestLoadModuleDeniedOverCeiling(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	desc := loadedDescriptor()
	desc.Permissions.MemoryLimit = 128 << 20 // policy ceiling is 64 MiB

	err := s.LoadModule(context.Background(), []byte{0x00, 0x61, 0x73, 0x6d}, desc)
	var denied *security.PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("LoadModule() error = %v, want PolicyDeniedError", err)
	}
	if denied.Reason == "" {
		t.Error("denial must carry a reason")
	}
	if got := len(s.Modules()); got != 0 {
		t.Errorf("registry has %d modules after denied load, want 0", got)
	}
}

func TestLoadModuleRegistersOnSuccess(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	desc := loadedDescriptor()
	if err := s.LoadModule(context.Background(), []byte{0x00, 0x61, 0x73, 0x6d}, desc); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}
	if got := s.Modules(); len(got) != 1 || got[0] != "chart" {
		t.Errorf("Modules() = %v, want [chart]", got)
	}

	if err := s.LoadModule(context.Background(), []byte{0x00}, desc); !errors.Is(err, ErrModuleExists) {
		t.Errorf("duplicate LoadModule() error = %v, want ErrModuleExists", err)
	}
}

func TestExecuteUnloadedModuleRaisesImmediately(t *testing.T) {
	s, b := newTestSession(t)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	// Drain the initialize handshake so any later traffic is visible.
	select {
	case <-b.Receive():
	case <-time.After(time.Second):
		t.Fatal("handshake never reached peer")
	}

	if _, err := s.ExecuteFunction(context.Background(), "ghost", "render", nil); !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("ExecuteFunction() error = %v, want ErrModuleNotLoaded", err)
	}

	// The check failed locally; nothing crossed the wire.
	select {
	case frame := <-b.Receive():
		t.Fatalf("unexpected frame after local rejection: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecuteNonExportedFunction(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	if err := s.LoadModule(context.Background(), []byte{0x00}, loadedDescriptor()); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}

	if _, err := s.ExecuteFunction(context.Background(), "chart", "internalHelper", nil); !errors.Is(err, ErrFunctionNotExported) {
		t.Errorf("ExecuteFunction() error = %v, want ErrFunctionNotExported", err)
	}
}

func TestExecuteFunctionResults(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	if err := s.LoadModule(context.Background(), []byte{0x00}, loadedDescriptor()); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}

	result, err := s.ExecuteFunction(context.Background(), "chart", "render", []any{"series-a"})
	if err != nil {
		t.Fatalf("ExecuteFunction() error = %v", err)
	}
	if !result.Success {
		t.Errorf("result.Success = false, want true (error %q)", result.Error)
	}
	if result.Result != float64(42) {
		t.Errorf("result.Result = %v, want 42", result.Result)
	}
	if result.MemoryUsed != 2048 {
		t.Errorf("result.MemoryUsed = %d, want 2048", result.MemoryUsed)
	}
	if result.Duration <= 0 {
		t.Error("result.Duration must be positive")
	}

	// A failing execution is a result, not an error.
	failed, err := s.ExecuteFunction(context.Background(), "chart", "fail", nil)
	if err != nil {
		t.Fatalf("ExecuteFunction(fail) error = %v", err)
	}
	if failed.Success {
		t.Error("failed execution reported Success = true")
	}
	if failed.Error != "division by zero" {
		t.Errorf("failed.Error = %q, want sandbox error text", failed.Error)
	}

	stats := s.Stats()
	if stats.FunctionCalls != 2 {
		t.Errorf("stats.FunctionCalls = %d, want 2", stats.FunctionCalls)
	}
	if stats.Errors == 0 {
		t.Error("failed execution must count as an error")
	}
}

func TestSendEventFireAndForget(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer s.Destroy()

	if err := s.SendEvent(context.Background(), "click", map[string]any{"x": 10, "y": 20}); err != nil {
		t.Fatalf("SendEvent() error = %v", err)
	}
	if got := s.Stats().EventsSent; got != 1 {
		t.Errorf("stats.EventsSent = %d, want 1", got)
	}
}

func TestSessionDestroyIdempotent(t *testing.T) {
	s, b := newTestSession(t)
	sandboxPeer(b)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := s.Destroy(); err != nil {
		t.Fatalf("first Destroy() error = %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("second Destroy() error = %v", err)
	}

	if _, err := s.ExecuteFunction(context.Background(), "chart", "render", nil); !errors.Is(err, protocol.ErrDestroyed) {
		t.Errorf("ExecuteFunction() after destroy error = %v, want ErrDestroyed", err)
	}
}
