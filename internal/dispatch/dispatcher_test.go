package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/types"
)

// testRun bundles a dispatcher with counters observing the registered
// functions.
type testRun struct {
	st         *store.MemoryStore
	reg        *registry.Registry
	d          *Dispatcher
	executed   atomic.Int32
	storeInits atomic.Int32
}

func newTestRun(t *testing.T) *testRun {
	t.Helper()
	tr := &testRun{
		st:  store.NewMemoryStore(),
		reg: registry.New(),
	}

	require.NoError(t, tr.reg.RegisterTrialFn("count", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		tr.executed.Add(1)
		return map[string]any{"index": config["trial_index"]}, nil
	}))
	require.NoError(t, tr.reg.RegisterStoreInit("init", func(config map[string]any) (map[string]any, error) {
		tr.storeInits.Add(1)
		return map[string]any{"ready": true}, nil
	}))

	d, err := New(&Config{Store: tr.st, Registry: tr.reg})
	require.NoError(t, err)
	tr.d = d
	return tr
}

func newCountExperiment(numTrials int) *types.Experiment {
	exp := types.NewExperiment("dispatch-test", numTrials, "count")
	exp.InitStoreFn = "init"
	return exp
}

func (tr *testRun) pendingCount(t *testing.T, exp *types.Experiment) int {
	t.Helper()
	pending, err := tr.st.ListIncompleteTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	return len(pending)
}

func TestRunSerial(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(5)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.NoError(t, err)

	assert.Equal(t, int32(5), tr.executed.Load())
	assert.Equal(t, int32(1), tr.storeInits.Load())
	assert.Equal(t, 5, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, tr.pendingCount(t, exp))
}

func TestRunEmptyExperiment(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(0)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, int32(0), tr.executed.Load())
}

func TestRerunSkipsCompletedTrials(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(5)

	_, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.NoError(t, err)
	require.Equal(t, int32(5), tr.executed.Load())

	// A second run finds nothing to do and expands no new trials.
	summary, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.NoError(t, err)
	assert.Equal(t, int32(5), tr.executed.Load())
	assert.Equal(t, 0, summary.Completed)

	all, err := tr.st.ListTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRunMultithreaded(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(8)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.Multithreaded{Threads: 2})
	require.NoError(t, err)

	assert.Equal(t, int32(8), tr.executed.Load())
	assert.Equal(t, 8, summary.Completed)
	assert.Equal(t, 0, tr.pendingCount(t, exp))

	// One process, one global store.
	assert.Equal(t, int32(1), tr.storeInits.Load())
}

func TestRunDistributedPool(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(7)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.DistributedPool{Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, int32(7), tr.executed.Load())
	assert.Equal(t, 7, summary.Completed)
	assert.Equal(t, 0, tr.pendingCount(t, exp))

	// One construction on the driver plus one per pool member.
	assert.Equal(t, int32(4), tr.storeInits.Load())
}

func TestRunHeterogeneousPool(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(10)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.HeterogeneousPool{Workers: 2, ThreadsPerNode: 2})
	require.NoError(t, err)

	assert.Equal(t, int32(10), tr.executed.Load())
	assert.Equal(t, 10, summary.Completed)

	// Threads share their member's global store.
	assert.Equal(t, int32(3), tr.storeInits.Load())
}

func TestPoolDowngradesToSerial(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(4)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.DistributedPool{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, int32(4), tr.executed.Load())
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, int32(1), tr.storeInits.Load())
}

func TestHeterogeneousDowngradesToThreads(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(4)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.HeterogeneousPool{Workers: 0, ThreadsPerNode: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Completed)
}

func TestTrialFailureLeavesTrialIncomplete(t *testing.T) {
	tr := newTestRun(t)

	var calls atomic.Int32
	require.NoError(t, tr.reg.RegisterTrialFn("flaky", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		if calls.Add(1) == 2 {
			return nil, fmt.Errorf("transient failure")
		}
		return map[string]any{}, nil
	}))

	exp := types.NewExperiment("flaky-test", 3, "flaky")
	_, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient failure")

	// The first trial kept its result, the failing one and the never-run
	// one did not.
	assert.Equal(t, 2, tr.pendingCount(t, exp))

	// The rerun only executes what is missing, and this time succeeds.
	summary, err := tr.d.RunExperiment(context.Background(), exp, types.Serial{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 0, tr.pendingCount(t, exp))
}

func TestGlobalStoreVisibleToTrials(t *testing.T) {
	tr := newTestRun(t)

	require.NoError(t, tr.reg.RegisterTrialFn("reads-global", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		rc, ok := state.FromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("run context missing")
		}
		v, err := rc.GlobalValue("ready")
		if err != nil {
			return nil, err
		}
		return map[string]any{"saw": v}, nil
	}))

	exp := types.NewExperiment("global-test", 2, "reads-global")
	exp.InitStoreFn = "init"

	_, err := tr.d.RunExperiment(context.Background(), exp, types.DistributedPool{Workers: 2})
	require.NoError(t, err)

	all, err := tr.st.ListTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	for _, trial := range all {
		assert.Equal(t, true, trial.Results["saw"])
	}
}

func TestSnapshotsThroughRunContext(t *testing.T) {
	tr := newTestRun(t)

	require.NoError(t, tr.reg.RegisterTrialFn("checkpoints", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		rc, ok := state.FromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("run context missing")
		}
		cl, err := rc.Client()
		if err != nil {
			return nil, err
		}
		if err := cl.SaveSnapshot(ctx, trialID, map[string]any{"step": 10}, "mid"); err != nil {
			return nil, err
		}
		snap, err := cl.LatestSnapshot(ctx, trialID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resumed_from": snap["step"]}, nil
	}))

	exp := types.NewExperiment("snapshot-test", 3, "checkpoints")

	// Pool members redirect snapshot traffic to the owning driver.
	_, err := tr.d.RunExperiment(context.Background(), exp, types.DistributedPool{Workers: 2})
	require.NoError(t, err)

	all, err := tr.st.ListTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	for _, trial := range all {
		assert.EqualValues(t, 10, trial.Results["resumed_from"])
	}
}

func TestClusterModeRequiresEnvironment(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(2)

	_, err := tr.d.RunExperiment(context.Background(), exp, types.ClusterMode{BatchSize: 1})
	assert.Error(t, err)
}

func TestInvalidModeRejected(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(2)

	_, err := tr.d.RunExperiment(context.Background(), exp, types.HeterogeneousPool{Workers: 2, ThreadsPerNode: 0})
	assert.Error(t, err)

	_, err = tr.d.RunExperiment(context.Background(), exp, types.ClusterMode{BatchSize: 0})
	assert.Error(t, err)
}

// TestConcurrentPoolMembersShareOneOwner exercises the redirect layer under
// contention: many members, few trials each.
func TestConcurrentPoolMembersShareOneOwner(t *testing.T) {
	tr := newTestRun(t)
	exp := newCountExperiment(40)

	summary, err := tr.d.RunExperiment(context.Background(), exp, types.DistributedPool{Workers: 5})
	require.NoError(t, err)
	assert.Equal(t, 40, summary.Completed)
	assert.Equal(t, int32(40), tr.executed.Load())
	assert.Equal(t, 0, tr.pendingCount(t, exp))
}
