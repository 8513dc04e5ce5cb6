package engine

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// wasmMagic is the module preamble that distinguishes compiled modules from
// script source.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// AutoRunner routes each module to the compiled or script runner by
// inspecting its bytes at load time.
type AutoRunner struct {
	script *ScriptRunner
	wasm   *WasmRunner

	mu     sync.Mutex
	routes map[string]Runner
}

// NewAutoRunner creates a runner pair sharing the given limits.
func NewAutoRunner(ctx context.Context, memoryLimitMB int64, cpuLimit time.Duration) (*AutoRunner, error) {
	wasm, err := NewWasmRunner(ctx, memoryLimitMB, cpuLimit)
	if err != nil {
		return nil, err
	}
	return &AutoRunner{
		script: NewScriptRunner(cpuLimit),
		wasm:   wasm,
		routes: make(map[string]Runner),
	}, nil
}

// Load dispatches by module preamble and remembers the route.
func (r *AutoRunner) Load(ctx context.Context, name string, moduleBytes []byte, entryPoint string) error {
	target := Runner(r.script)
	if bytes.HasPrefix(moduleBytes, wasmMagic) {
		target = r.wasm
	}
	if err := target.Load(ctx, name, moduleBytes, entryPoint); err != nil {
		return err
	}
	r.mu.Lock()
	r.routes[name] = target
	r.mu.Unlock()
	return nil
}

// Call forwards to whichever runner loaded the module.
func (r *AutoRunner) Call(ctx context.Context, module, function string, args []any) (*CallResult, error) {
	r.mu.Lock()
	target, ok := r.routes[module]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownModule
	}
	return target.Call(ctx, module, function, args)
}

// Close releases both runners.
func (r *AutoRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.routes = make(map[string]Runner)
	r.mu.Unlock()
	if err := r.script.Close(ctx); err != nil {
		return err
	}
	return r.wasm.Close(ctx)
}
