package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretstage/internal/config"
	"github.com/systmms/secretstage/internal/providers"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/store"
	"github.com/systmms/secretstage/tests/fakes"
	"github.com/systmms/secretstage/tests/testutil"
)

func appConfig(t *testing.T) *testutil.TestConfigBuilder {
	return testutil.NewTestConfig(t).WithNamespace("app")
}

// setupCommand writes the config and points the memory store type at a
// shared fake for the duration of the test.
func setupCommand(t *testing.T, b *testutil.TestConfigBuilder) (*config.Config, *fakes.FakeStore) {
	t.Helper()

	fake := fakes.NewFakeStore()
	prev := registry
	registry = providers.NewRegistry()
	registry.RegisterFactory(config.StoreMemory, func(context.Context, config.StoreConfig) (store.Client, error) {
		return fake, nil
	})
	t.Cleanup(func() { registry = prev })

	return b.Config(), fake
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAddCommand(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))

	out, err := runCommand(t, NewAddCommand(cfg), "DB_PASSWORD", "--value", "hunter2", "--description", "db")
	require.NoError(t, err)
	assert.Equal(t, "SECRET_VERSION_ENV_DB_PASSWORD=1\n", out)

	out, err = runCommand(t, NewAddCommand(cfg), "db_password", "--value", "hunter3")
	require.NoError(t, err)
	assert.Equal(t, "SECRET_VERSION_ENV_DB_PASSWORD=2\n", out)

	assert.Equal(t, []string{"app/db_password"}, fake.Keys())
}

func TestAddCommandFromStdin(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))

	cmd := NewAddCommand(cfg)
	cmd.SetIn(strings.NewReader("from-stdin\n"))
	out, err := runCommand(t, cmd, "api_token", "--from-stdin", "--namespace", "payments")
	require.NoError(t, err)
	assert.Equal(t, "SECRET_VERSION_ENV_API_TOKEN=1\n", out)

	v, err := fake.Memory.GetAtStage(context.Background(), "payments/api_token", "CLEO-001")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"from-stdin"}`, v.Payload)
}

func TestAddCommandValueFlags(t *testing.T) {
	cfg, _ := setupCommand(t, appConfig(t))

	_, err := runCommand(t, NewAddCommand(cfg), "db_password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Exactly one of --value or --from-stdin")

	_, err = runCommand(t, NewAddCommand(cfg), "db_password", "--value", "x", "--from-stdin")
	require.Error(t, err)
}

func TestStageCommand(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))
	fake.WithVersion("app/db_password", "one", "CLEO-001").
		WithVersion("app/db_password", "two", "CLEO-002")

	out, err := runCommand(t, NewStageCommand(cfg), "db_password")
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 3)
	assert.Equal(t, "CLEO-002", fields[0])
	assert.NotEmpty(t, fields[1])
	assert.Equal(t, "SECRET_VERSION_ENV_DB_PASSWORD=2", fields[2])

	out, err = runCommand(t, NewStageCommand(cfg), "missing")
	require.NoError(t, err)
	assert.Equal(t, "app/missing does not exist\n", out)
}

func TestLoadCommand(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))
	fake.WithVersion("app/db_password", "first-password", "CLEO-001").
		WithVersion("app/db_password", "second-password", "CLEO-002")
	t.Setenv("SECRET_VERSION_ENV_DB_PASSWORD", "1")

	out, err := runCommand(t, NewLoadCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 secrets")
	assert.Contains(t, out, "DB_PASSWORD=fir********rd")
	assert.NotContains(t, out, "first-password")

	_, ok := os.LookupEnv("DB_PASSWORD")
	assert.False(t, ok, "load must not modify the process environment")
}

func TestLoadCommandOut(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))
	fake.WithSecret("app/api_key", "k-123", "CLEO-001")
	t.Setenv("SECRET_VERSION_ENV_API_KEY", "1")

	outFile := filepath.Join(t.TempDir(), ".env.secrets")
	_, err := runCommand(t, NewLoadCommand(cfg), "--out", outFile)
	require.NoError(t, err)

	written, err := godotenv.Read(outFile)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"API_KEY": "k-123"}, written)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(outFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLoadCommandPolicies(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))
	fake.WithSecret("app/api_key", "fetched", "CLEO-001")
	t.Setenv("SECRET_VERSION_ENV_API_KEY", "1")
	t.Setenv("API_KEY", "local")

	out, err := runCommand(t, NewLoadCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "preserved existing API_KEY")

	_, err = runCommand(t, NewLoadCommand(cfg), "--policy", "raise")
	var clash *reconcile.EnvClashError
	require.ErrorAs(t, err, &clash)
	assert.Equal(t, "API_KEY", clash.Name)

	out, err = runCommand(t, NewLoadCommand(cfg), "--policy", "raise", "--force", "API_KEY")
	require.NoError(t, err)
	assert.Contains(t, out, "overwrote existing API_KEY")

	_, err = runCommand(t, NewLoadCommand(cfg), "--policy", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --policy value")
}

func TestLoadCommandDisabled(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t).WithEnabled(false))
	t.Setenv("SECRET_VERSION_ENV_API_KEY", "1")

	out, err := runCommand(t, NewLoadCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "Secret loading is disabled")
	assert.Empty(t, fake.Calls())
}

func TestExecCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cfg, fake := setupCommand(t, appConfig(t))
	fake.WithSecret("app/db_password", "hunter2", "CLEO-001")
	t.Setenv("SECRET_VERSION_ENV_DB_PASSWORD", "1")

	out, err := runCommand(t, NewExecCommand(cfg), "--", "sh", "-c", `printf '%s' "$DB_PASSWORD"`)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out)
}

func TestExecCommandMissingCommand(t *testing.T) {
	cfg, _ := setupCommand(t, appConfig(t))

	_, err := runCommand(t, NewExecCommand(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No command specified")
}

func TestImportCommand(t *testing.T) {
	cfg, fake := setupCommand(t, appConfig(t))
	dir := t.TempDir()
	source := filepath.Join(dir, "heroku.env")
	target := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(source, []byte("DB_PASSWORD=hunter2\nport=8080\nHEROKU_APP_ID=abc\n"), 0o644))

	out, err := runCommand(t, NewImportCommand(cfg), "--source", source, "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 secrets and 1 configs")
	assert.Contains(t, out, "SECRET_VERSION_ENV_DB_PASSWORD=1")

	written, err := godotenv.Read(target)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"PORT":                           "8080",
		"SECRET_VERSION_ENV_DB_PASSWORD": "1",
	}, written)
	assert.Equal(t, []string{"app/db_password"}, fake.Keys())
}

func TestImportCommandRequiresSource(t *testing.T) {
	cfg, _ := setupCommand(t, appConfig(t))

	_, err := runCommand(t, NewImportCommand(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "secretstage"}
	root.AddCommand(NewCompletionCommand(nil))

	out, err := runCommand(t, root, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "secretstage")

	_, err = runCommand(t, root, "completion", "tcsh")
	require.Error(t, err)
}

func TestFlushMetrics(t *testing.T) {
	textfile := filepath.Join(t.TempDir(), "secretstage.prom")
	cfg, fake := setupCommand(t, appConfig(t).WithMetricsTextfile(textfile))
	fake.WithSecret("app/api_key", "k", "CLEO-001")
	t.Setenv("SECRET_VERSION_ENV_API_KEY", "1")

	_, err := runCommand(t, NewLoadCommand(cfg))
	require.NoError(t, err)
	require.NoError(t, FlushMetrics(cfg))

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "secretstage_store_calls_total")
}

func TestFlushMetricsWithoutTextfile(t *testing.T) {
	assert.NoError(t, FlushMetrics(&config.Config{}))
}
