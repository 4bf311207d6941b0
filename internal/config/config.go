package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/importer"
	"github.com/systmms/secretstage/internal/logging"
	"github.com/systmms/secretstage/internal/matcher"
	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
)

// DefaultPath is the configuration file looked up when --config is not set.
const DefaultPath = "secretstage.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SECRETSTAGE_"

// Store types.
const (
	StoreAWSSecretsManager = "aws.secretsmanager"
	StoreAWSSSM            = "aws.ssm"
	StoreGCPSecretManager  = "gcp.secretmanager"
	StoreAzureKeyVault     = "azure.keyvault"
	StoreSQL               = "sql"
	StoreMemory            = "memory"
)

// StoreTypes lists every known store type.
var StoreTypes = []string{
	StoreAWSSecretsManager,
	StoreAWSSSM,
	StoreGCPSecretManager,
	StoreAzureKeyVault,
	StoreSQL,
	StoreMemory,
}

// DefaultTimeoutMs bounds a single store call.
const DefaultTimeoutMs = 30000

//go:embed schema.json
var schema string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition

	// LookupEnv reads overrides. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Definition represents the secretstage.yaml structure after defaults and
// environment overrides are applied.
type Definition struct {
	Version               int      `yaml:"version"`
	Enabled               bool     `yaml:"enabled"`
	SecretsNamespace      string   `yaml:"secrets_namespace,omitempty"`
	PointerPrefix         string   `yaml:"pointer_prefix"`
	StagePrefix           string   `yaml:"stage_prefix"`
	RaiseIfSecretNotFound bool     `yaml:"raise_if_secret_not_found"`
	ClashPolicy           string   `yaml:"clash_policy"`
	ForcedOverwriteNames  []string `yaml:"forced_overwrite_names,omitempty"`
	MaxSecretsPerFetch    int      `yaml:"max_secrets_per_fetch"`

	// SecretNameTokens, DoNotImportNames are added to the built-in lists.
	SecretNameTokens   []string `yaml:"secret_name_tokens,omitempty"`
	DoNotImportNames   []string `yaml:"do_not_import_names,omitempty"`
	AllowedConfigNames []string `yaml:"allowed_config_names,omitempty"`

	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// StoreConfig selects and configures the secret store. Fields not used by
// the selected type are ignored.
type StoreConfig struct {
	Type      string `yaml:"type"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`

	// AWS
	Region          string `yaml:"region,omitempty"`
	Profile         string `yaml:"profile,omitempty"`
	AssumeRole      string `yaml:"assume_role,omitempty"`
	ExternalID      string `yaml:"external_id,omitempty"`
	KMSKeyID        string `yaml:"kms_key_id,omitempty"`
	ParameterPrefix string `yaml:"parameter_prefix,omitempty"`

	// GCP
	ProjectID       string `yaml:"project_id,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`

	// Azure
	VaultURL        string `yaml:"vault_url,omitempty"`
	TenantID        string `yaml:"tenant_id,omitempty"`
	ClientID        string `yaml:"client_id,omitempty"`
	ManagedIdentity bool   `yaml:"managed_identity,omitempty"`

	// SQL
	Driver      string `yaml:"driver,omitempty"`
	DSN         string `yaml:"dsn,omitempty"`
	TablePrefix string `yaml:"table_prefix,omitempty"`
	AutoMigrate bool   `yaml:"auto_migrate,omitempty"`
}

// MetricsConfig controls metrics output.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics in node-exporter textfile
	// format after each command.
	Textfile string `yaml:"textfile,omitempty"`
}

// DefaultDefinition returns the configuration used when no file exists.
func DefaultDefinition() Definition {
	return Definition{
		Enabled:               true,
		PointerPrefix:         secret.DefaultPointerPrefix,
		StagePrefix:           secret.DefaultStagePrefix,
		RaiseIfSecretNotFound: true,
		ClashPolicy:           string(reconcile.PolicyPreserve),
		MaxSecretsPerFetch:    fetch.DefaultBatchLimit,
		Store: StoreConfig{
			Type:      StoreAWSSecretsManager,
			TimeoutMs: DefaultTimeoutMs,
		},
	}
}

// Load reads and parses the configuration file, then applies SECRETSTAGE_*
// overrides. A missing file at DefaultPath is not an error.
func (c *Config) Load() error {
	def := DefaultDefinition()

	path := c.Path
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := parse(data, &def); err != nil {
			return err
		}
	case os.IsNotExist(err) && path == DefaultPath:
		if c.Logger != nil {
			c.Logger.Debug("no %s found, using defaults", DefaultPath)
		}
	case os.IsNotExist(err):
		return sserrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "configuration file not found",
			Suggestion: "Check the --config path, or omit it to use defaults and SECRETSTAGE_* variables",
		}
	default:
		return sserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if err := c.applyEnv(&def); err != nil {
		return err
	}
	if err := def.validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func parse(data []byte, def *Definition) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return sserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		return nil
	}

	if err := validateSchema(raw); err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, def); err != nil {
		return sserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: "Compare your file against the documented secretstage.yaml keys",
		}
	}
	return nil
}

func validateSchema(raw interface{}) error {
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return sserrors.ConfigError{
			Message:    "configuration cannot be represented as JSON for validation",
			Suggestion: "Use string keys only",
		}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errorMessages []string
	for _, desc := range result.Errors() {
		errorMessages = append(errorMessages, desc.String())
	}
	return sserrors.ConfigError{
		Message:    "schema validation failed:\n  - " + strings.Join(errorMessages, "\n  - "),
		Suggestion: "Fix the listed keys in your secretstage.yaml",
	}
}

func (c *Config) applyEnv(def *Definition) error {
	lookup := c.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = append(*dst, splitList(v)...)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return sserrors.ConfigError{
				Field:      EnvPrefix + name,
				Value:      v,
				Message:    "must be true or false",
				Suggestion: "Set it to 'true' or 'false'",
			}
		}
		*dst = b
		return nil
	}

	if err := boolean("ENABLED", &def.Enabled); err != nil {
		return err
	}
	if err := boolean("RAISE_IF_SECRET_NOT_FOUND", &def.RaiseIfSecretNotFound); err != nil {
		return err
	}
	str("SECRETS_NAMESPACE", &def.SecretsNamespace)
	str("POINTER_PREFIX", &def.PointerPrefix)
	str("STAGE_PREFIX", &def.StagePrefix)
	str("CLASH_POLICY", &def.ClashPolicy)
	str("STORE_TYPE", &def.Store.Type)
	str("SECRETS_MANAGER_ENDPOINT", &def.Store.Endpoint)
	str("STORE_ENDPOINT", &def.Store.Endpoint)
	str("STORE_ASSUME_ROLE", &def.Store.AssumeRole)
	str("STORE_PROJECT_ID", &def.Store.ProjectID)
	str("STORE_VAULT_URL", &def.Store.VaultURL)
	str("STORE_DSN", &def.Store.DSN)
	list("FORCED_OVERWRITE_NAMES", &def.ForcedOverwriteNames)
	list("SECRET_NAME_TOKENS", &def.SecretNameTokens)
	list("DO_NOT_IMPORT_NAMES", &def.DoNotImportNames)
	list("ALLOWED_CONFIG_NAMES", &def.AllowedConfigNames)

	if v, ok := lookup(EnvPrefix + "MAX_SECRETS_PER_FETCH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return sserrors.ConfigError{
				Field:      EnvPrefix + "MAX_SECRETS_PER_FETCH",
				Value:      v,
				Message:    "must be an integer",
				Suggestion: fmt.Sprintf("Leave it unset to use %d", fetch.DefaultBatchLimit),
			}
		}
		def.MaxSecretsPerFetch = n
	}

	if def.Store.Region == "" {
		if v, ok := lookup("AWS_REGION"); ok {
			def.Store.Region = v
		}
	}
	return nil
}

func (d *Definition) validate() error {
	if _, err := reconcile.ParsePolicy(d.ClashPolicy); err != nil {
		return sserrors.ConfigError{
			Field:      "clash_policy",
			Value:      d.ClashPolicy,
			Message:    err.Error(),
			Suggestion: "Use raise, preserve or overwrite",
		}
	}
	if d.MaxSecretsPerFetch < 1 {
		return sserrors.ConfigError{
			Field:      "max_secrets_per_fetch",
			Value:      d.MaxSecretsPerFetch,
			Message:    "must be at least 1",
			Suggestion: fmt.Sprintf("Do not change it unless you run a store proxy; the default is %d", fetch.DefaultBatchLimit),
		}
	}
	if d.PointerPrefix == "" || d.StagePrefix == "" {
		return sserrors.ConfigError{
			Field:      "pointer_prefix/stage_prefix",
			Message:    "prefixes cannot be empty",
			Suggestion: "Remove the override to use the defaults",
		}
	}
	return d.Store.validate()
}

func (s StoreConfig) validate() error {
	switch s.Type {
	case StoreAWSSecretsManager, StoreAWSSSM, StoreMemory:
	case StoreGCPSecretManager:
		// project_id may still come from GOOGLE_CLOUD_PROJECT
	case StoreAzureKeyVault:
		if s.VaultURL == "" {
			return sserrors.ConfigError{
				Field:      "store.vault_url",
				Message:    "required for azure.keyvault",
				Suggestion: "Set it to https://<vault-name>.vault.azure.net/ or export SECRETSTAGE_STORE_VAULT_URL",
			}
		}
	case StoreSQL:
		if s.Driver == "" || s.DSN == "" {
			return sserrors.ConfigError{
				Field:      "store.driver/store.dsn",
				Message:    "both are required for the sql store",
				Suggestion: "Set driver to postgres or mysql and export the connection string as SECRETSTAGE_STORE_DSN",
			}
		}
	default:
		return sserrors.ConfigError{
			Field:      "store.type",
			Value:      s.Type,
			Message:    "unknown store type",
			Suggestion: "Use one of: " + strings.Join(StoreTypes, ", "),
		}
	}
	return nil
}

// Naming returns the naming conventions in effect.
func (d *Definition) Naming() secret.Naming {
	return secret.Naming{
		Namespace:     d.SecretsNamespace,
		PointerPrefix: d.PointerPrefix,
		StagePrefix:   d.StagePrefix,
	}
}

// Policy returns the configured clash policy.
func (d *Definition) Policy() reconcile.Policy {
	p, err := reconcile.ParsePolicy(d.ClashPolicy)
	if err != nil {
		return reconcile.PolicyPreserve
	}
	return p
}

// Tokens returns the built-in secret name tokens plus configured extras.
func (d *Definition) Tokens() []string {
	return append(append([]string{}, matcher.DefaultTokens...), d.SecretNameTokens...)
}

// DoNotImport returns the built-in do-not-import names plus configured
// extras.
func (d *Definition) DoNotImport() []string {
	return append(append([]string{}, importer.DefaultDoNotImportNames...), d.DoNotImportNames...)
}

// Matcher builds the secret name matcher for this configuration.
func (d *Definition) Matcher() (*matcher.Matcher, error) {
	return matcher.New(d.Tokens(), d.AllowedConfigNames, d.PointerPrefix)
}

// Timeout returns the per-call store timeout.
func (s StoreConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
