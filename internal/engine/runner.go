// Package engine implements the sandbox side of the message contract: a Host
// that answers control commands over a conduit and dispatches function calls
// to a Runner. Two runners exist, one for compiled modules (wazero) and one
// for script modules (goja). Resource limits are enforced here, inside the
// execution boundary.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrUnknownModule is returned for calls against a module the runner
	// never loaded.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownFunction is returned when a loaded module has no such
	// function.
	ErrUnknownFunction = errors.New("unknown function")
)

// CallResult is a runner's view of one function execution.
type CallResult struct {
	Value      any
	MemoryUsed uint64
}

// Runner executes module functions under resource limits.
type Runner interface {
	// Load compiles and instantiates a module from its raw bytes.
	Load(ctx context.Context, name string, moduleBytes []byte, entryPoint string) error
	// Call invokes a function of a loaded module.
	Call(ctx context.Context, module, function string, args []any) (*CallResult, error)
	// Close releases all module instances.
	Close(ctx context.Context) error
}
