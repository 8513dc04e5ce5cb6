package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ScriptRunner executes script modules in goja VMs with neutered globals.
// Each module gets its own VM; the module source runs once at load time and
// its top-level functions become the callable surface.
type ScriptRunner struct {
	cpuLimit time.Duration

	mu      sync.Mutex
	modules map[string]*goja.Runtime
}

// NewScriptRunner creates a script runner. cpuLimit bounds each call; zero
// means one second.
func NewScriptRunner(cpuLimit time.Duration) *ScriptRunner {
	if cpuLimit <= 0 {
		cpuLimit = time.Second
	}
	return &ScriptRunner{
		cpuLimit: cpuLimit,
		modules:  make(map[string]*goja.Runtime),
	}
}

// Load evaluates the module source in a fresh VM. The entry point is ignored
// for scripts; top-level function declarations are the exports.
func (r *ScriptRunner) Load(ctx context.Context, name string, moduleBytes []byte, entryPoint string) error {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	neuterGlobals(vm)

	timer := time.AfterFunc(r.cpuLimit, func() {
		vm.Interrupt("load time limit exceeded")
	})
	_, err := vm.RunScript(name, string(moduleBytes))
	timer.Stop()
	vm.ClearInterrupt()
	if err != nil {
		return fmt.Errorf("load script module %s: %w", name, err)
	}

	r.mu.Lock()
	r.modules[name] = vm
	r.mu.Unlock()
	return nil
}

// Call invokes a top-level function of a loaded module. The VM is interrupted
// when the CPU limit or the context deadline expires.
func (r *ScriptRunner) Call(ctx context.Context, module, function string, args []any) (*CallResult, error) {
	r.mu.Lock()
	vm, ok := r.modules[module]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	fn, ok := goja.AssertFunction(vm.Get(function))
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownFunction, module, function)
	}

	done := make(chan struct{})
	timer := time.NewTimer(r.cpuLimit)
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt("cpu time limit exceeded")
		case <-ctx.Done():
			vm.Interrupt("call cancelled")
		case <-done:
		}
	}()

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = vm.ToValue(arg)
	}
	val, err := fn(goja.Undefined(), values...)

	close(done)
	timer.Stop()
	vm.ClearInterrupt()

	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", module, function, err)
	}

	result := &CallResult{}
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		result.Value = val.Export()
	}
	return result, nil
}

// Close drops all module VMs.
func (r *ScriptRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = make(map[string]*goja.Runtime)
	return nil
}

// neuterGlobals removes host escape hatches from the VM.
func neuterGlobals(vm *goja.Runtime) {
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("globalThis", goja.Undefined())
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
}
