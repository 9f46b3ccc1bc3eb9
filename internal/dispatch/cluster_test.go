package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/types"
)

const clusterTestPort = 38215

func waitForCoordinator(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("coordinator did not come up")
}

// TestClusterRunOverHTTP drives a full cluster run inside one test process:
// a coordinator dispatcher on rank 0 and two worker dispatchers pulling over
// the HTTP transport.
func TestClusterRunOverHTTP(t *testing.T) {
	listen := fmt.Sprintf("127.0.0.1:%d", clusterTestPort)
	url := fmt.Sprintf("http://%s", listen)

	newReg := func() *registry.Registry {
		reg := registry.New()
		require.NoError(t, reg.RegisterTrialFn("count", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
			return map[string]any{"index": config["trial_index"]}, nil
		}))
		return reg
	}

	exp := types.NewExperiment("cluster-http-test", 5, "count")
	st := store.NewMemoryStore()

	coordDispatcher, err := New(&Config{
		Store:    st,
		Registry: newReg(),
		Cluster:  &ClusterEnv{Rank: 0, NumProcs: 3, ListenAddress: listen},
	})
	require.NoError(t, err)

	mode := types.ClusterMode{BatchSize: 2}

	coordDone := make(chan error, 1)
	go func() {
		summary, err := coordDispatcher.RunExperiment(context.Background(), exp, mode)
		if err == nil && summary.Completed != 5 {
			err = fmt.Errorf("coordinator saw %d completions, want 5", summary.Completed)
		}
		coordDone <- err
	}()

	waitForCoordinator(t, url)

	var wg sync.WaitGroup
	workerTotals := make([]int, 3)
	for rank := 1; rank <= 2; rank++ {
		// Each worker process has its own registry and no store.
		wd, err := New(&Config{
			Registry: newReg(),
			Cluster:  &ClusterEnv{Rank: rank, NumProcs: 3, CoordinatorURL: url},
		})
		require.NoError(t, err)

		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			summary, err := wd.RunExperiment(context.Background(), exp, mode)
			assert.NoError(t, err)
			if summary != nil {
				workerTotals[rank] = summary.Completed
			}
		}(rank)
	}
	wg.Wait()
	require.NoError(t, <-coordDone)

	assert.Equal(t, 5, workerTotals[1]+workerTotals[2])

	pending, err := st.ListIncompleteTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
