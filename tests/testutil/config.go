// Package testutil provides test helpers shared by secretstage packages.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/systmms/secretstage/internal/config"
	"github.com/systmms/secretstage/internal/logging"
)

// TestConfigBuilder builds a secretstage.yaml for tests.
//
// Example usage:
//
//	cfg := testutil.NewTestConfig(t).
//	    WithNamespace("app").
//	    WithClashPolicy("raise").
//	    Config()
type TestConfigBuilder struct {
	t   *testing.T
	def config.Definition
	env map[string]string
}

// NewTestConfig starts from the defaults with the memory store selected.
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	def := config.DefaultDefinition()
	def.Store.Type = config.StoreMemory
	return &TestConfigBuilder{t: t, def: def, env: map[string]string{}}
}

// WithNamespace sets secrets_namespace.
func (b *TestConfigBuilder) WithNamespace(namespace string) *TestConfigBuilder {
	b.def.SecretsNamespace = namespace
	return b
}

// WithEnabled sets enabled.
func (b *TestConfigBuilder) WithEnabled(enabled bool) *TestConfigBuilder {
	b.def.Enabled = enabled
	return b
}

// WithClashPolicy sets clash_policy.
func (b *TestConfigBuilder) WithClashPolicy(policy string) *TestConfigBuilder {
	b.def.ClashPolicy = policy
	return b
}

// WithMetricsTextfile sets metrics.textfile.
func (b *TestConfigBuilder) WithMetricsTextfile(path string) *TestConfigBuilder {
	b.def.Metrics.Textfile = path
	return b
}

// WithEnv sets an override variable seen by Load. Variables of the real
// process are never consulted.
func (b *TestConfigBuilder) WithEnv(key, value string) *TestConfigBuilder {
	b.env[key] = value
	return b
}

// Definition returns the definition as it will be written.
func (b *TestConfigBuilder) Definition() config.Definition {
	return b.def
}

// Write marshals the definition into a temp dir and returns its path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	data, err := yaml.Marshal(b.def)
	require.NoError(b.t, err)

	path := filepath.Join(b.t.TempDir(), config.DefaultPath)
	require.NoError(b.t, os.WriteFile(path, data, 0o644))
	return path
}

// Config writes the file and returns an unloaded Config pointing at it.
func (b *TestConfigBuilder) Config() *config.Config {
	b.t.Helper()

	env := b.env
	return &config.Config{
		Path:   b.Write(),
		Logger: logging.NewNop(),
		LookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
}

// WriteTestConfig writes raw YAML to a temp file and returns its path.
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	return path
}
