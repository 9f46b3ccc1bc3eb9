// Package state provides the run-scoped state manager: the lock-guarded
// handle to the authoritative results store and the per-process read-only
// global store. One RunContext exists per process per run and is passed to
// every component that needs store access.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/types"
)

var (
	// ErrStoreNotSet is returned when the results-store handle is accessed
	// on a process that has not set one and has no redirect client either.
	ErrStoreNotSet = errors.New("results store not set for this run")

	// ErrGlobalStoreNotInitialized is returned when the read-only global
	// store is accessed before construction.
	ErrGlobalStoreNotInitialized = errors.New("global store not initialized")
)

// RunContext ties the process-wide state of one run together. Its lifetime
// is exactly the run's lifetime: Set before dispatch begins, Unset after all
// trials complete.
type RunContext struct {
	// Guards the authoritative store handle. Held only for the duration of
	// a single store call, never across trial execution.
	mu     sync.Mutex
	store  store.Store
	client Client

	globalMu    sync.RWMutex
	global      map[string]any
	globalBuilt bool
	initName    string
}

// NewRunContext creates an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{}
}

// SetStore installs the authoritative results-store handle on the owning
// process. Store-mutating operations issued through Client go directly to it
// under the run context's lock.
func (rc *RunContext) SetStore(s store.Store) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.store = s
	rc.client = &localClient{rc: rc}
}

// SetRemote installs a redirecting client on a process that does not own the
// authoritative store. Every store operation round-trips to the owner.
func (rc *RunContext) SetRemote(c Client) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.store = nil
	rc.client = c
}

// Unset releases the store handle at the end of a run.
func (rc *RunContext) Unset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.store = nil
	rc.client = nil
}

// Client returns the store-access client for this process.
func (rc *RunContext) Client() (Client, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.client == nil {
		return nil, ErrStoreNotSet
	}
	return rc.client, nil
}

// OwnsStore reports whether this process holds the authoritative store.
func (rc *RunContext) OwnsStore() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.store != nil
}

// Store returns the authoritative store handle, present only on the owner.
func (rc *RunContext) Store() (store.Store, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.store == nil {
		return nil, ErrStoreNotSet
	}
	return rc.store, nil
}

// ConstructGlobalStore builds the per-process read-only global store by
// invoking the named initializer. It runs at most once per process per run;
// later calls are no-ops.
func (rc *RunContext) ConstructGlobalStore(reg *registry.Registry, initName string, config map[string]any) error {
	rc.globalMu.Lock()
	defer rc.globalMu.Unlock()

	rc.initName = initName
	if rc.globalBuilt {
		return nil
	}

	fn, err := reg.ResolveStoreInit(initName)
	if err != nil {
		return err
	}

	data, err := fn(config)
	if err != nil {
		return fmt.Errorf("store initializer %q failed: %w", initName, err)
	}

	global := make(map[string]any, len(data))
	for k, v := range data {
		global[k] = v
	}
	rc.global = global
	rc.globalBuilt = true
	return nil
}

// GlobalValue reads a key from the read-only global store. Accessing the
// store before construction is a fatal error naming the missing initializer.
func (rc *RunContext) GlobalValue(key string) (any, error) {
	rc.globalMu.RLock()
	defer rc.globalMu.RUnlock()

	if !rc.globalBuilt {
		return nil, rc.uninitializedErr()
	}
	v, ok := rc.global[key]
	if !ok {
		return nil, fmt.Errorf("global store has no key %q", key)
	}
	return v, nil
}

// GlobalStoreBuilt reports whether the global store has been constructed.
func (rc *RunContext) GlobalStoreBuilt() bool {
	rc.globalMu.RLock()
	defer rc.globalMu.RUnlock()
	return rc.globalBuilt
}

func (rc *RunContext) uninitializedErr() error {
	if rc.initName == "" {
		return fmt.Errorf("%w: no store initializer configured", ErrGlobalStoreNotInitialized)
	}
	return fmt.Errorf("%w: initializer %q has not run in this process", ErrGlobalStoreNotInitialized, rc.initName)
}

// Client is the uniform store-access stub used by all backends. On the
// owning process it is a thin lock-guarded wrapper over the store; on every
// other process it transparently redirects to the owner. The redirect rule
// is expressed here once, not per operation site.
type Client interface {
	// CompleteTrial records a trial's results in the authoritative store.
	CompleteTrial(ctx context.Context, trialID string, results map[string]any) error

	// GetTrial fetches a trial from the authoritative store.
	GetTrial(ctx context.Context, trialID string) (*types.Trial, error)

	// SaveSnapshot persists a labeled state checkpoint for a trial.
	SaveSnapshot(ctx context.Context, trialID string, snapState map[string]any, label string) error

	// LatestSnapshot fetches a trial's most recent snapshot state.
	LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error)
}

// localClient serves store operations directly on the owning process. Each
// call holds the run context's lock for exactly one store call.
type localClient struct {
	rc *RunContext
}

func (c *localClient) CompleteTrial(ctx context.Context, trialID string, results map[string]any) error {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	if c.rc.store == nil {
		return ErrStoreNotSet
	}
	return c.rc.store.CompleteTrial(ctx, trialID, results)
}

func (c *localClient) GetTrial(ctx context.Context, trialID string) (*types.Trial, error) {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	if c.rc.store == nil {
		return nil, ErrStoreNotSet
	}
	return c.rc.store.GetTrial(ctx, trialID)
}

func (c *localClient) SaveSnapshot(ctx context.Context, trialID string, snapState map[string]any, label string) error {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	if c.rc.store == nil {
		return ErrStoreNotSet
	}
	return c.rc.store.SaveSnapshot(ctx, trialID, snapState, label)
}

func (c *localClient) LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error) {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	if c.rc.store == nil {
		return nil, ErrStoreNotSet
	}
	return c.rc.store.LatestSnapshot(ctx, trialID)
}
