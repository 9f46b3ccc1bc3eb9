// Package script hosts experiment source files in an embedded JavaScript
// runtime. A source file declares its functions by calling
// registerTrial(name, fn) and registerStoreInit(name, fn); the declared
// functions become resolvable through the process registry like any
// Go-registered function.
package script

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/pkg/logger"
)

// Runtime wraps one goja VM hosting one experiment source file. The VM is not
// safe for concurrent use, so every call into a script function serializes on
// the runtime's lock. Scripted trials therefore run one at a time per process
// even under the multithreaded backend.
type Runtime struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	reg  *registry.Registry
	path string
}

// LoadFile reads and executes an experiment source file, registering the
// functions it declares. It is called once per participating process before
// any trial executes.
func LoadFile(reg *registry.Registry, path string) (*Runtime, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}
	return Load(reg, path, string(src))
}

// Load executes source under the given name and registers the functions it
// declares.
func Load(reg *registry.Registry, name, source string) (*Runtime, error) {
	rt := &Runtime{
		vm:   goja.New(),
		reg:  reg,
		path: name,
	}
	rt.setupConsole()
	rt.setupRegistration()

	if _, err := rt.vm.RunScript(name, source); err != nil {
		return nil, fmt.Errorf("failed to execute source file %s: %w", name, err)
	}
	return rt, nil
}

// setupConsole bridges console.log and friends onto the process logger.
func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()

	console.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Info("script %s: %s", r.path, r.formatArgs(call.Arguments))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		logger.Warn("script %s: %s", r.path, r.formatArgs(call.Arguments))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		logger.Error("script %s: %s", r.path, r.formatArgs(call.Arguments))
		return goja.Undefined()
	})

	r.vm.Set("console", console)
}

func (r *Runtime) formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg.Export())
	}
	return strings.Join(parts, " ")
}

// setupRegistration installs registerTrial and registerStoreInit.
func (r *Runtime) setupRegistration() {
	r.vm.Set("registerTrial", func(call goja.FunctionCall) goja.Value {
		name, fn, err := r.namedCallable(call)
		if err != nil {
			panic(r.vm.NewGoError(fmt.Errorf("registerTrial: %w", err)))
		}
		if err := r.reg.RegisterTrialFn(name, r.trialFunc(fn)); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	r.vm.Set("registerStoreInit", func(call goja.FunctionCall) goja.Value {
		name, fn, err := r.namedCallable(call)
		if err != nil {
			panic(r.vm.NewGoError(fmt.Errorf("registerStoreInit: %w", err)))
		}
		if err := r.reg.RegisterStoreInit(name, r.storeInitFunc(fn)); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
}

func (r *Runtime) namedCallable(call goja.FunctionCall) (string, goja.Callable, error) {
	if len(call.Arguments) < 2 {
		return "", nil, fmt.Errorf("expected name and function arguments")
	}
	name := call.Arguments[0].String()
	fn, ok := goja.AssertFunction(call.Arguments[1])
	if !ok {
		return "", nil, fmt.Errorf("second argument for %q must be a function", name)
	}
	return name, fn, nil
}

// trialFunc adapts a script function to the registry contract.
func (r *Runtime) trialFunc(fn goja.Callable) registry.TrialFunc {
	return func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		stop := watchInterrupt(ctx, r.vm)
		defer stop()

		val, err := fn(goja.Undefined(), r.vm.ToValue(config), r.vm.ToValue(trialID))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("script trial failed: %w", err)
		}
		return exportMap(val)
	}
}

// storeInitFunc adapts a script function to the registry contract.
func (r *Runtime) storeInitFunc(fn goja.Callable) registry.StoreInitFunc {
	return func(config map[string]any) (map[string]any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		val, err := fn(goja.Undefined(), r.vm.ToValue(config))
		if err != nil {
			return nil, fmt.Errorf("script store initializer failed: %w", err)
		}
		return exportMap(val)
	}
}

// watchInterrupt interrupts the VM when ctx is canceled. The returned stop
// function must run before the runtime lock is released.
func watchInterrupt(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("run canceled")
		case <-done:
		}
	}()
	return func() {
		close(done)
		vm.ClearInterrupt()
	}
}

func exportMap(val goja.Value) (map[string]any, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	exported := val.Export()
	m, ok := exported.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("script function must return an object, got %T", exported)
	}
	return m, nil
}
