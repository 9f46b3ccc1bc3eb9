// Package registry maps configured names to user-supplied trial and
// store-initializer functions. Names are resolved once before dispatch so a
// missing function fails at startup instead of mid-run.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TrialFunc executes one trial. It receives the trial's configuration
// payload and id and returns the named outputs to record.
type TrialFunc func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error)

// StoreInitFunc builds the per-process read-only global store from the
// experiment configuration. It is invoked at most once per process per run.
type StoreInitFunc func(config map[string]any) (map[string]any, error)

// Registry holds named trial and store-initializer functions.
type Registry struct {
	mu         sync.RWMutex
	trialFns   map[string]TrialFunc
	storeInits map[string]StoreInitFunc
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		trialFns:   make(map[string]TrialFunc),
		storeInits: make(map[string]StoreInitFunc),
	}
}

// RegisterTrialFn registers a trial function under name.
func (r *Registry) RegisterTrialFn(name string, fn TrialFunc) error {
	if fn == nil {
		return fmt.Errorf("trial function %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trialFns[name] = fn
	return nil
}

// RegisterStoreInit registers a store initializer under name.
func (r *Registry) RegisterStoreInit(name string, fn StoreInitFunc) error {
	if fn == nil {
		return fmt.Errorf("store initializer %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeInits[name] = fn
	return nil
}

// ResolveTrialFn returns the trial function registered under name.
func (r *Registry) ResolveTrialFn(name string) (TrialFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.trialFns[name]
	if !ok {
		return nil, fmt.Errorf("unknown trial function: %q", name)
	}
	return fn, nil
}

// ResolveStoreInit returns the store initializer registered under name.
func (r *Registry) ResolveStoreInit(name string) (StoreInitFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.storeInits[name]
	if !ok {
		return nil, fmt.Errorf("unknown store initializer: %q", name)
	}
	return fn, nil
}

// TrialFnNames returns the registered trial function names, sorted.
func (r *Registry) TrialFnNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trialFns))
	for name := range r.trialFns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry populated by user code at
// configuration time.
var Default = New()
