package secretstage_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/secretstage"
	"github.com/systmms/secretstage/tests/fakes"
)

func naming() secret.Naming {
	return secret.DefaultNaming().WithNamespace("app")
}

// twoVersions seeds db_password with CLEO-001 "old" and CLEO-002 "new", the
// latter current.
func twoVersions() *fakes.FakeStore {
	return fakes.NewFakeStore().
		WithVersion("app/db_password", "old", "CLEO-001").
		WithVersion("app/db_password", "new", "CLEO-002")
}

func TestLoadIntoEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pointer string
		want    string
	}{
		{"pinned_previous", "1", "old"},
		{"pinned_current", "2", "new"},
		{"newest", "-1", "new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))
			environ := map[string]string{
				"SECRET_VERSION_ENV_DB_PASSWORD": tt.pointer,
				"PORT":                           "8080",
			}
			env := reconcile.MapEnv{"PORT": "8080"}

			summary, err := client.LoadIntoEnv(context.Background(), environ, env)
			require.NoError(t, err)
			assert.Equal(t, []string{"DB_PASSWORD"}, summary.Loaded)
			assert.False(t, summary.Skipped)
			assert.Equal(t, tt.want, env["DB_PASSWORD"])
			assert.Equal(t, "8080", env["PORT"])
		})
	}
}

func TestLoadIntoEnvClashPolicies(t *testing.T) {
	t.Parallel()

	environ := map[string]string{"SECRET_VERSION_ENV_DB_PASSWORD": "2"}

	t.Run("preserve", func(t *testing.T) {
		t.Parallel()
		env := reconcile.MapEnv{"DB_PASSWORD": "local"}
		client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))

		summary, err := client.LoadIntoEnv(context.Background(), environ, env)
		require.NoError(t, err)
		assert.Equal(t, "local", env["DB_PASSWORD"])
		assert.Equal(t, []string{"DB_PASSWORD"}, summary.Preserved)
		assert.Equal(t, []string{"DB_PASSWORD"}, summary.Loaded)
	})

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()
		env := reconcile.MapEnv{"DB_PASSWORD": "local"}
		client := secretstage.New(twoVersions(),
			secretstage.WithNaming(naming()),
			secretstage.WithPolicy(reconcile.PolicyOverwrite))

		summary, err := client.LoadIntoEnv(context.Background(), environ, env)
		require.NoError(t, err)
		assert.Equal(t, "new", env["DB_PASSWORD"])
		assert.Equal(t, []string{"DB_PASSWORD"}, summary.Overwritten)
	})

	t.Run("forced", func(t *testing.T) {
		t.Parallel()
		env := reconcile.MapEnv{"DB_PASSWORD": "local"}
		client := secretstage.New(twoVersions(),
			secretstage.WithNaming(naming()),
			secretstage.WithForceOverwrite("DB_PASSWORD"))

		_, err := client.LoadIntoEnv(context.Background(), environ, env)
		require.NoError(t, err)
		assert.Equal(t, "new", env["DB_PASSWORD"])
	})

	t.Run("raise", func(t *testing.T) {
		t.Parallel()
		env := reconcile.MapEnv{"DB_PASSWORD": "local"}
		client := secretstage.New(twoVersions(),
			secretstage.WithNaming(naming()),
			secretstage.WithPolicy(reconcile.PolicyRaise))

		_, err := client.LoadIntoEnv(context.Background(), environ, env)
		var clash *reconcile.EnvClashError
		require.ErrorAs(t, err, &clash)
		assert.Equal(t, "DB_PASSWORD", clash.Name)
		assert.Equal(t, "local", env["DB_PASSWORD"])
	})
}

func TestLoadIntoEnvDisabled(t *testing.T) {
	t.Parallel()

	fake := twoVersions()
	client := secretstage.New(fake, secretstage.WithNaming(naming()), secretstage.WithEnabled(false))
	env := reconcile.MapEnv{}

	summary, err := client.LoadIntoEnv(context.Background(),
		map[string]string{"SECRET_VERSION_ENV_DB_PASSWORD": "1"}, env)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Empty(t, env)
	assert.Empty(t, fake.Calls())
	assert.False(t, client.Enabled())
}

func TestLoadIntoEnvWithoutPointers(t *testing.T) {
	t.Parallel()

	fake := twoVersions()
	client := secretstage.New(fake, secretstage.WithNaming(naming()))

	summary, err := client.LoadIntoEnv(context.Background(), map[string]string{"PORT": "1"}, reconcile.MapEnv{})
	require.NoError(t, err)
	assert.Empty(t, summary.Loaded)
	assert.Empty(t, fake.Calls())
}

func TestLoadIntoEnvBadPointer(t *testing.T) {
	t.Parallel()

	client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))

	_, err := client.LoadIntoEnv(context.Background(),
		map[string]string{"SECRET_VERSION_ENV_DB_PASSWORD": "two"}, reconcile.MapEnv{})
	var pointerErr secret.PointerValueError
	require.ErrorAs(t, err, &pointerErr)
	assert.Equal(t, "SECRET_VERSION_ENV_DB_PASSWORD", pointerErr.PointerName)
}

func TestLoadIntoEnvMissing(t *testing.T) {
	t.Parallel()

	environ := map[string]string{
		"SECRET_VERSION_ENV_DB_PASSWORD": "2",
		"SECRET_VERSION_ENV_API_KEY":     "1",
	}

	t.Run("fails_by_default", func(t *testing.T) {
		t.Parallel()
		client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))

		_, err := client.LoadIntoEnv(context.Background(), environ, reconcile.MapEnv{})
		var missing *fetch.MissingSecretsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"app/api_key"}, missing.StoreKeys())
	})

	t.Run("tolerated", func(t *testing.T) {
		t.Parallel()
		env := reconcile.MapEnv{}
		client := secretstage.New(twoVersions(),
			secretstage.WithNaming(naming()),
			secretstage.WithFailOnMissing(false))

		summary, err := client.LoadIntoEnv(context.Background(), environ, env)
		require.NoError(t, err)
		assert.Equal(t, []string{"DB_PASSWORD"}, summary.Loaded)
		assert.Equal(t, "new", env["DB_PASSWORD"])
	})
}

func TestLoadIntoEnvBatchLimit(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeStore()
	environ := map[string]string{}
	for _, name := range []string{"a_key", "b_key", "c_key"} {
		fake.WithSecret("app/"+name, name+"-value", "CLEO-001")
		environ["SECRET_VERSION_ENV_"+strings.ToUpper(name)] = "1"
	}
	client := secretstage.New(fake, secretstage.WithNaming(naming()), secretstage.WithBatchLimit(2))
	env := reconcile.MapEnv{}

	summary, err := client.LoadIntoEnv(context.Background(), environ, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"A_KEY", "B_KEY", "C_KEY"}, summary.Loaded)
	assert.Equal(t, 2, fake.CallCount(fakes.OpBatchGetCurrent))
	assert.Equal(t, "c_key-value", env["C_KEY"])
}

func TestLoadIntoEnvLogsDuration(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	client := secretstage.New(twoVersions(),
		secretstage.WithNaming(naming()),
		secretstage.WithLogger(zap.New(core)))

	_, err := client.LoadIntoEnv(context.Background(),
		map[string]string{"SECRET_VERSION_ENV_DB_PASSWORD": "2"}, reconcile.MapEnv{})
	require.NoError(t, err)

	entries := logs.FilterMessageSnippet("loaded secrets in").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["count"])
	for _, e := range logs.All() {
		assert.NotContains(t, e.Message, "new")
	}
}

func TestLoadIntoProcessEnv(t *testing.T) {
	t.Setenv("SECRET_VERSION_ENV_DB_PASSWORD", "1")
	t.Setenv("DB_PASSWORD", "")
	require.NoError(t, os.Unsetenv("DB_PASSWORD"))

	client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))

	summary, err := client.LoadIntoProcessEnv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_PASSWORD"}, summary.Loaded)
	assert.Equal(t, "old", os.Getenv("DB_PASSWORD"))
}

func TestAddOrUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := fakes.NewFakeStore()
	client := secretstage.New(fake, secretstage.WithNaming(naming()))

	pointer, version, err := client.AddOrUpdate(ctx, "DB_PASSWORD", "", "first", "database password")
	require.NoError(t, err)
	assert.Equal(t, "SECRET_VERSION_ENV_DB_PASSWORD", pointer)
	assert.Equal(t, 1, version)

	_, version, err = client.AddOrUpdate(ctx, "db_password", "", "second", "")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	env := reconcile.MapEnv{}
	_, err = client.LoadIntoEnv(ctx, map[string]string{pointer: "1"}, env)
	require.NoError(t, err)
	assert.Equal(t, "first", env["DB_PASSWORD"])
}

func TestAddOrUpdateOverrideNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := fakes.NewFakeStore()
	client := secretstage.New(fake, secretstage.WithNaming(naming()))

	_, _, err := client.AddOrUpdate(ctx, "shared_token", "platform", "value", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"platform/shared_token"}, fake.Keys())

	id, history, err := client.CurrentStage(ctx, "shared_token", "platform")
	require.NoError(t, err)
	assert.Equal(t, "platform/shared_token", id.StoreKey())
	assert.True(t, history.Staged)
	assert.Equal(t, secret.FirstStage, history.Latest)
}

func TestAddOrUpdateEmptyName(t *testing.T) {
	t.Parallel()

	client := secretstage.New(fakes.NewFakeStore())

	_, _, err := client.AddOrUpdate(context.Background(), "  ", "", "value", "")
	var idErr secret.IdentityError
	require.ErrorAs(t, err, &idErr)
}

func TestCurrentStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := secretstage.New(twoVersions(), secretstage.WithNaming(naming()))

	id, history, err := client.CurrentStage(ctx, "DB_PASSWORD", "")
	require.NoError(t, err)
	assert.Equal(t, "app/db_password", id.StoreKey())
	assert.True(t, history.Exists)
	assert.Equal(t, secret.Stage(2), history.Latest)
	assert.Equal(t, 2, history.Versions)
	assert.Equal(t, "CLEO-002", client.Naming().StageLabel(history.Latest))

	_, history, err = client.CurrentStage(ctx, "unknown", "")
	require.NoError(t, err)
	assert.False(t, history.Exists)
}
