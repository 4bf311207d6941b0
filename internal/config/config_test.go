package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretstage/internal/logging"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
)

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secretstage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `version: 0
enabled: false
secrets_namespace: myapp_production
pointer_prefix: PTR_
stage_prefix: REL-
raise_if_secret_not_found: false
clash_policy: overwrite
forced_overwrite_names: [DATABASE_URL]
max_secrets_per_fetch: 10
secret_name_tokens: [CERT]
do_not_import_names: [DYNO]
allowed_config_names: [PUBLIC_KEY_ID]
store:
  type: memory
  region: eu-west-1
  endpoint: http://localhost:4566
  timeout_ms: 5000
metrics:
  textfile: /tmp/secretstage.prom
`)

	cfg := &Config{Path: path, Logger: logging.NewNop(), LookupEnv: envLookup(nil)}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.False(t, def.Enabled)
	assert.False(t, def.RaiseIfSecretNotFound)
	assert.Equal(t, reconcile.PolicyOverwrite, def.Policy())
	assert.Equal(t, []string{"DATABASE_URL"}, def.ForcedOverwriteNames)
	assert.Equal(t, 10, def.MaxSecretsPerFetch)
	assert.Equal(t, secret.Naming{Namespace: "myapp_production", PointerPrefix: "PTR_", StagePrefix: "REL-"}, def.Naming())
	assert.Contains(t, def.Tokens(), "CERT")
	assert.Contains(t, def.Tokens(), "PASSWORD")
	assert.Contains(t, def.DoNotImport(), "DYNO")
	assert.Contains(t, def.DoNotImport(), "HEROKU_APP_ID")
	assert.Equal(t, StoreConfig{Type: StoreMemory, Region: "eu-west-1", Endpoint: "http://localhost:4566", TimeoutMs: 5000}, def.Store)
	assert.Equal(t, 5*time.Second, def.Store.Timeout())
	assert.Equal(t, "/tmp/secretstage.prom", def.Metrics.Textfile)

	m, err := def.Matcher()
	require.NoError(t, err)
	assert.False(t, m.IsSecretName("PUBLIC_KEY_ID"))
	assert.True(t, m.IsSecretName("TLS_CERT"))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	// Changes the working directory, so not parallel.
	t.Chdir(t.TempDir())

	cfg := &Config{LookupEnv: envLookup(map[string]string{"AWS_REGION": "us-east-1"})}
	require.NoError(t, cfg.Load())

	want := DefaultDefinition()
	want.Store.Region = "us-east-1"
	assert.Equal(t, &want, cfg.Definition)
	assert.Equal(t, secret.DefaultNaming(), cfg.Definition.Naming())
	assert.Equal(t, reconcile.PolicyPreserve, cfg.Definition.Policy())
	assert.Equal(t, 30*time.Second, cfg.Definition.Store.Timeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "version: 0\nforced_overwrite_names: [A]\n")
	cfg := &Config{Path: path, LookupEnv: envLookup(map[string]string{
		"SECRETSTAGE_ENABLED":                   "false",
		"SECRETSTAGE_SECRETS_NAMESPACE":         "other",
		"SECRETSTAGE_POINTER_PREFIX":            "V_",
		"SECRETSTAGE_STAGE_PREFIX":              "S-",
		"SECRETSTAGE_RAISE_IF_SECRET_NOT_FOUND": "false",
		"SECRETSTAGE_FORCED_OVERWRITE_NAMES":    "B, C,,",
		"SECRETSTAGE_CLASH_POLICY":              "raise",
		"SECRETSTAGE_MAX_SECRETS_PER_FETCH":     "5",
		"SECRETSTAGE_SECRET_NAME_TOKENS":        "CERT",
		"SECRETSTAGE_ALLOWED_CONFIG_NAMES":      "PUBLIC_KEY",
		"SECRETSTAGE_SECRETS_MANAGER_ENDPOINT":  "http://localhost:4566",
		"SECRETSTAGE_STORE_TYPE":                "memory",
		"AWS_REGION":                            "ap-southeast-2",
	})}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.False(t, def.Enabled)
	assert.False(t, def.RaiseIfSecretNotFound)
	assert.Equal(t, "other", def.SecretsNamespace)
	assert.Equal(t, "V_", def.PointerPrefix)
	assert.Equal(t, "S-", def.StagePrefix)
	assert.Equal(t, []string{"A", "B", "C"}, def.ForcedOverwriteNames)
	assert.Equal(t, reconcile.PolicyRaise, def.Policy())
	assert.Equal(t, 5, def.MaxSecretsPerFetch)
	assert.Equal(t, []string{"CERT"}, def.SecretNameTokens)
	assert.Equal(t, []string{"PUBLIC_KEY"}, def.AllowedConfigNames)
	assert.Equal(t, "http://localhost:4566", def.Store.Endpoint)
	assert.Equal(t, StoreMemory, def.Store.Type)
	assert.Equal(t, "ap-southeast-2", def.Store.Region)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{
			name:    "invalid yaml",
			content: "version: 0\nstore:\n  type: memory\n  bad syntax here [[[\n",
			want:    "invalid YAML syntax",
		},
		{
			name:    "unknown key",
			content: "version: 0\nnamespace: typo\n",
			want:    "schema validation failed",
		},
		{
			name:    "unsupported version",
			content: "version: 2\n",
			want:    "schema validation failed",
		},
		{
			name:    "bad clash policy",
			content: "clash_policy: clobber\n",
			want:    "clash_policy",
		},
		{
			name:    "bad store type",
			content: "store:\n  type: vault\n",
			want:    "store.type",
		},
		{
			name:    "azure without vault",
			content: "store:\n  type: azure.keyvault\n",
			want:    "store.vault_url",
		},
		{
			name:    "sql without dsn",
			content: "store:\n  type: sql\n  driver: postgres\n",
			want:    "store.driver/store.dsn",
		},
		{
			name:    "bad sql driver",
			content: "store:\n  type: sql\n  driver: sqlite\n  dsn: file.db\n",
			want:    "schema validation failed",
		},
		{
			name:    "bad assume role",
			content: "store:\n  assume_role: deployer\n",
			want:    "schema validation failed",
		},
		{
			name:    "zero batch size",
			content: "max_secrets_per_fetch: 0\n",
			want:    "max_secrets_per_fetch",
		},
		{
			name: "bad bool override",
			env:  map[string]string{"SECRETSTAGE_ENABLED": "yes please"},
			want: "SECRETSTAGE_ENABLED",
		},
		{
			name: "bad batch override",
			env:  map[string]string{"SECRETSTAGE_MAX_SECRETS_PER_FETCH": "twenty"},
			want: "must be an integer",
		},
		{
			name: "bad policy override",
			env:  map[string]string{"SECRETSTAGE_CLASH_POLICY": "clobber"},
			want: "unknown clash policy",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{Path: writeConfig(t, tt.content), LookupEnv: envLookup(tt.env)}
			err := cfg.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, cfg.Definition)
		})
	}
}

func TestLoad_StoreBackends(t *testing.T) {
	t.Parallel()

	content := `store:
  type: aws.ssm
  region: eu-central-1
  assume_role: arn:aws:iam::123456789012:role/secretstage
  external_id: build
  kms_key_id: alias/secretstage
  parameter_prefix: /prod/
`
	cfg := &Config{Path: writeConfig(t, content), LookupEnv: envLookup(nil)}
	require.NoError(t, cfg.Load())
	assert.Equal(t, StoreConfig{
		Type:            StoreAWSSSM,
		Region:          "eu-central-1",
		AssumeRole:      "arn:aws:iam::123456789012:role/secretstage",
		ExternalID:      "build",
		KMSKeyID:        "alias/secretstage",
		ParameterPrefix: "/prod/",
		TimeoutMs:       DefaultTimeoutMs,
	}, cfg.Definition.Store)

	cfg = &Config{Path: writeConfig(t, "version: 0\n"), LookupEnv: envLookup(map[string]string{
		"SECRETSTAGE_STORE_TYPE":      "azure.keyvault",
		"SECRETSTAGE_STORE_VAULT_URL": "https://team.vault.azure.net/",
	})}
	require.NoError(t, cfg.Load())
	assert.Equal(t, StoreAzureKeyVault, cfg.Definition.Store.Type)
	assert.Equal(t, "https://team.vault.azure.net/", cfg.Definition.Store.VaultURL)

	cfg = &Config{Path: writeConfig(t, "store:\n  type: sql\n  driver: mysql\n"), LookupEnv: envLookup(map[string]string{
		"SECRETSTAGE_STORE_DSN": "app:pw@tcp(db:3306)/secrets",
	})}
	require.NoError(t, cfg.Load())
	assert.Equal(t, "app:pw@tcp(db:3306)/secrets", cfg.Definition.Store.DSN)

	cfg = &Config{Path: writeConfig(t, "store:\n  type: gcp.secretmanager\n"), LookupEnv: envLookup(nil)}
	require.NoError(t, cfg.Load())
	assert.Empty(t, cfg.Definition.Store.ProjectID)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: "/nonexistent/path/to/secretstage.yaml", LookupEnv: envLookup(nil)}
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, ""), LookupEnv: envLookup(nil)}
	require.NoError(t, cfg.Load())
	assert.True(t, cfg.Definition.Enabled)
}
