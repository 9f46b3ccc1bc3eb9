package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknownNames(t *testing.T) {
	reg := New()

	_, err := reg.ResolveTrialFn("missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, err = reg.ResolveStoreInit("missing")
	assert.Error(t, err)
}

func TestRegisterAndResolve(t *testing.T) {
	reg := New()

	require.NoError(t, reg.RegisterTrialFn("simulate", func(ctx context.Context, config map[string]any, trialID string) (map[string]any, error) {
		return map[string]any{"id": trialID}, nil
	}))
	require.NoError(t, reg.RegisterStoreInit("load", func(config map[string]any) (map[string]any, error) {
		return nil, nil
	}))

	fn, err := reg.ResolveTrialFn("simulate")
	require.NoError(t, err)
	out, err := fn(context.Background(), nil, "trial-1")
	require.NoError(t, err)
	assert.Equal(t, "trial-1", out["id"])

	_, err = reg.ResolveStoreInit("load")
	assert.NoError(t, err)
}

func TestRegisterNilFunction(t *testing.T) {
	reg := New()
	assert.Error(t, reg.RegisterTrialFn("broken", nil))
	assert.Error(t, reg.RegisterStoreInit("broken", nil))
}

func TestTrialFnNamesSorted(t *testing.T) {
	reg := New()
	noop := func(context.Context, map[string]any, string) (map[string]any, error) { return nil, nil }
	require.NoError(t, reg.RegisterTrialFn("zeta", noop))
	require.NoError(t, reg.RegisterTrialFn("alpha", noop))

	assert.Equal(t, []string{"alpha", "zeta"}, reg.TrialFnNames())
}
