package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// wasmPageSize is the WebAssembly linear memory page size.
const wasmPageSize = 64 * 1024

// WasmRunner executes compiled modules on a wazero runtime. The memory limit
// is enforced by the runtime itself; CPU time is enforced by a context
// deadline, which wazero turns into real in-flight interruption.
type WasmRunner struct {
	runtime  wazero.Runtime
	cpuLimit time.Duration

	mu      sync.Mutex
	modules map[string]api.Module
}

// NewWasmRunner creates a runner whose modules share one memory-limited
// runtime. memoryLimitMB of zero means 64 MiB; cpuLimit of zero means one
// second.
func NewWasmRunner(ctx context.Context, memoryLimitMB int64, cpuLimit time.Duration) (*WasmRunner, error) {
	if memoryLimitMB <= 0 {
		memoryLimitMB = 64
	}
	if cpuLimit <= 0 {
		cpuLimit = time.Second
	}

	pages := uint32(memoryLimitMB * (1 << 20) / wasmPageSize)
	config := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, config)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	return &WasmRunner{
		runtime:  runtime,
		cpuLimit: cpuLimit,
		modules:  make(map[string]api.Module),
	}, nil
}

// Load compiles and instantiates a module. The entry point, when exported,
// runs once at load time under the CPU limit.
func (r *WasmRunner) Load(ctx context.Context, name string, moduleBytes []byte, entryPoint string) error {
	compiled, err := r.runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		return fmt.Errorf("compile module %s: %w", name, err)
	}

	instance, err := r.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return fmt.Errorf("instantiate module %s: %w", name, err)
	}

	if entryPoint != "" {
		if init := instance.ExportedFunction(entryPoint); init != nil {
			callCtx, cancel := context.WithTimeout(ctx, r.cpuLimit)
			_, err := init.Call(callCtx)
			cancel()
			if err != nil {
				_ = instance.Close(ctx)
				return fmt.Errorf("run entry point %s.%s: %w", name, entryPoint, err)
			}
		}
	}

	r.mu.Lock()
	r.modules[name] = instance
	r.mu.Unlock()
	return nil
}

// Call invokes an exported function. Arguments and results cross the
// boundary as numbers, per the WebAssembly core value types.
func (r *WasmRunner) Call(ctx context.Context, module, function string, args []any) (*CallResult, error) {
	r.mu.Lock()
	instance, ok := r.modules[module]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	fn := instance.ExportedFunction(function)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownFunction, module, function)
	}

	params, err := wasmParams(args)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", module, function, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cpuLimit)
	defer cancel()

	results, err := fn.Call(callCtx, params...)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", module, function, err)
	}

	result := &CallResult{}
	if mem := instance.Memory(); mem != nil {
		result.MemoryUsed = uint64(mem.Size())
	}
	if len(results) > 0 {
		result.Value = results[0]
	}
	return result, nil
}

// Close tears down the runtime and every module instance with it.
func (r *WasmRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.modules = make(map[string]api.Module)
	r.mu.Unlock()
	return r.runtime.Close(ctx)
}

func wasmParams(args []any) ([]uint64, error) {
	params := make([]uint64, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case uint64:
			params[i] = v
		case int64:
			params[i] = uint64(v)
		case int:
			params[i] = uint64(v)
		case float64:
			params[i] = uint64(v)
		case bool:
			if v {
				params[i] = 1
			}
		default:
			return nil, fmt.Errorf("unsupported argument type %T", arg)
		}
	}
	return params, nil
}
