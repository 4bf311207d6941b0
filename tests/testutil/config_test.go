package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretstage/internal/config"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/tests/testutil"
)

func TestConfigBuilderRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testutil.NewTestConfig(t).
		WithNamespace("app").
		WithClashPolicy("raise").
		WithMetricsTextfile("/tmp/secretstage.prom").
		WithEnv("SECRETSTAGE_STAGE_PREFIX", "REL-").
		Config()
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	assert.Equal(t, config.StoreMemory, def.Store.Type)
	assert.Equal(t, "app", def.SecretsNamespace)
	assert.Equal(t, reconcile.PolicyRaise, def.Policy())
	assert.Equal(t, "REL-", def.StagePrefix)
	assert.Equal(t, "/tmp/secretstage.prom", def.Metrics.Textfile)
}

func TestWriteTestConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Path:      testutil.WriteTestConfig(t, "version: 0\nenabled: false\nstore:\n  type: memory\n"),
		LookupEnv: func(string) (string, bool) { return "", false },
	}
	require.NoError(t, cfg.Load())
	assert.False(t, cfg.Definition.Enabled)
}
