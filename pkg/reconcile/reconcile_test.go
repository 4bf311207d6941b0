package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/secretstage/pkg/reconcile"
)

func fetched() map[string]string {
	return map[string]string{
		"BLAH1": "fresh",
		"BLAH2": "unexpected",
	}
}

func TestApplyClashPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    reconcile.Policy
		force     []string
		wantBlah2 string
		wantErr   bool
	}{
		{name: "raise", policy: reconcile.PolicyRaise, wantBlah2: "already set", wantErr: true},
		{name: "preserve", policy: reconcile.PolicyPreserve, wantBlah2: "already set"},
		{name: "preserve with force", policy: reconcile.PolicyPreserve, force: []string{"BLAH2"}, wantBlah2: "unexpected"},
		{name: "overwrite", policy: reconcile.PolicyOverwrite, wantBlah2: "unexpected"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := reconcile.MapEnv{"BLAH2": "already set"}
			_, err := reconcile.New(tt.policy, reconcile.WithForceOverwrite(tt.force...)).Apply(fetched(), env)
			if tt.wantErr {
				var clash *reconcile.EnvClashError
				require.ErrorAs(t, err, &clash)
				assert.Equal(t, "BLAH2", clash.Name)
				assert.NotContains(t, err.Error(), "unexpected")
				assert.NotContains(t, err.Error(), "already set")
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, "fresh", env["BLAH1"])
			assert.Equal(t, tt.wantBlah2, env["BLAH2"])
		})
	}
}

func TestApplyResult(t *testing.T) {
	t.Parallel()

	env := reconcile.MapEnv{
		"SAME":      "v",
		"KEEP":      "local override",
		"FORCED":    "stale",
		"UNRELATED": "x",
	}
	in := map[string]string{
		"NEW":    "n",
		"SAME":   "v",
		"KEEP":   "remote",
		"FORCED": "fresh",
	}

	res, err := reconcile.New(reconcile.PolicyPreserve, reconcile.WithForceOverwrite("FORCED")).Apply(in, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW", "SAME"}, res.Set)
	assert.Equal(t, []string{"KEEP"}, res.Preserved)
	assert.Equal(t, []string{"FORCED"}, res.Overwritten)
	assert.Equal(t, reconcile.MapEnv{
		"SAME":      "v",
		"KEEP":      "local override",
		"FORCED":    "fresh",
		"UNRELATED": "x",
		"NEW":       "n",
	}, env)
}

func TestApplyRaiseStopsAtFirstClash(t *testing.T) {
	t.Parallel()

	env := reconcile.MapEnv{"B": "old", "C": "old"}
	in := map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"}

	res, err := reconcile.New(reconcile.PolicyRaise).Apply(in, env)
	var clash *reconcile.EnvClashError
	require.ErrorAs(t, err, &clash)
	assert.Equal(t, "B", clash.Name)
	assert.Equal(t, []string{"A"}, res.Set)

	_, touched := env["D"]
	assert.False(t, touched)
	assert.Equal(t, "old", env["C"])
}

func TestApplyLogsClashesWithoutValues(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	env := reconcile.MapEnv{"BLAH2": "already set"}

	_, err := reconcile.New(reconcile.PolicyPreserve, reconcile.WithLogger(zap.New(core))).Apply(fetched(), env)
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "BLAH2", entries[0].ContextMap()["name"])
	for _, v := range entries[0].ContextMap() {
		assert.NotEqual(t, "unexpected", v)
		assert.NotEqual(t, "already set", v)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    reconcile.Policy
		wantErr bool
	}{
		{in: "", want: reconcile.PolicyPreserve},
		{in: "preserve", want: reconcile.PolicyPreserve},
		{in: "preserve_env", want: reconcile.PolicyPreserve},
		{in: "RAISE", want: reconcile.PolicyRaise},
		{in: " overwrite ", want: reconcile.PolicyOverwrite},
		{in: "overwrite_existing", want: reconcile.PolicyOverwrite},
		{in: "clobber", wantErr: true},
	}

	for _, tt := range tests {
		got, err := reconcile.ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFromEnviron(t *testing.T) {
	t.Parallel()

	env := reconcile.FromEnviron([]string{"A=1", "B=x=y", "EMPTY=", "garbage", "=nameless"})
	assert.Equal(t, reconcile.MapEnv{"A": "1", "B": "x=y", "EMPTY": ""}, env)
	assert.ElementsMatch(t, []string{"A=1", "B=x=y", "EMPTY="}, env.Environ())
}

func TestOSEnv(t *testing.T) {
	t.Setenv("SECRETSTAGE_RECONCILE_TEST", "before")

	_, err := reconcile.New(reconcile.PolicyOverwrite).Apply(
		map[string]string{"SECRETSTAGE_RECONCILE_TEST": "after"}, reconcile.OSEnv{})
	require.NoError(t, err)

	got, ok := reconcile.OSEnv{}.Lookup("SECRETSTAGE_RECONCILE_TEST")
	assert.True(t, ok)
	assert.Equal(t, "after", got)
	assert.Equal(t, "after", reconcile.Snapshot()["SECRETSTAGE_RECONCILE_TEST"])
}
