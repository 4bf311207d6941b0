package providers

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/systmms/secretstage/internal/config"
	"github.com/systmms/secretstage/pkg/store"
)

// Registry manages store creation by configured type.
type Registry struct {
	factories map[string]StoreFactory
}

// StoreFactory creates a store client from configuration.
type StoreFactory func(ctx context.Context, cfg config.StoreConfig) (store.Client, error)

// NewRegistry creates a new registry with the built-in stores.
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]StoreFactory),
	}

	registry.RegisterFactory(config.StoreAWSSecretsManager, NewAWSSecretsManagerStoreFactory)
	registry.RegisterFactory(config.StoreAWSSSM, NewAWSSSMStoreFactory)
	registry.RegisterFactory(config.StoreGCPSecretManager, NewGCPSecretManagerStoreFactory)
	registry.RegisterFactory(config.StoreAzureKeyVault, NewAzureKeyVaultStoreFactory)
	registry.RegisterFactory(config.StoreSQL, NewSQLStoreFactory)
	registry.RegisterFactory(config.StoreMemory, NewMemoryStoreFactory)

	return registry
}

// RegisterFactory registers a store factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory StoreFactory) {
	r.factories[storeType] = factory
}

// CreateStore creates a store client from configuration
func (r *Registry) CreateStore(ctx context.Context, cfg config.StoreConfig) (store.Client, error) {
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}

	return factory(ctx, cfg)
}

// GetSupportedTypes returns the registered store types in sorted order.
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

// awsConfig maps the store settings shared by the AWS stores. Static
// credentials are read from the standard AWS variables only when an endpoint
// override is set, which is how LocalStack is usually wired.
func awsConfig(cfg config.StoreConfig) AWSConfig {
	awsCfg := AWSConfig{
		Region:     cfg.Region,
		Profile:    cfg.Profile,
		Endpoint:   cfg.Endpoint,
		Timeout:    cfg.Timeout(),
		AssumeRole: cfg.AssumeRole,
		ExternalID: cfg.ExternalID,
	}
	if cfg.Endpoint != "" {
		awsCfg.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		awsCfg.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	return awsCfg
}

// NewAWSSecretsManagerStoreFactory builds the AWS Secrets Manager store.
func NewAWSSecretsManagerStoreFactory(ctx context.Context, cfg config.StoreConfig) (store.Client, error) {
	return NewAWSSecretsManagerStore(ctx, awsConfig(cfg))
}

// NewAWSSSMStoreFactory builds the Parameter Store store.
func NewAWSSSMStoreFactory(ctx context.Context, cfg config.StoreConfig) (store.Client, error) {
	return NewAWSSSMStore(ctx, AWSSSMConfig{
		AWSConfig:       awsConfig(cfg),
		KMSKeyID:        cfg.KMSKeyID,
		ParameterPrefix: cfg.ParameterPrefix,
	})
}

// NewGCPSecretManagerStoreFactory builds the Google Secret Manager store.
func NewGCPSecretManagerStoreFactory(ctx context.Context, cfg config.StoreConfig) (store.Client, error) {
	return NewGCPSecretManagerStore(ctx, GCPSecretManagerConfig{
		ProjectID:       cfg.ProjectID,
		CredentialsFile: cfg.CredentialsFile,
		Endpoint:        cfg.Endpoint,
		Timeout:         cfg.Timeout(),
	})
}

// NewAzureKeyVaultStoreFactory builds the Key Vault store. A client secret is
// only ever read from AZURE_CLIENT_SECRET.
func NewAzureKeyVaultStoreFactory(_ context.Context, cfg config.StoreConfig) (store.Client, error) {
	vaultURL := cfg.VaultURL
	if cfg.Endpoint != "" {
		vaultURL = cfg.Endpoint
	}
	return NewAzureKeyVaultStore(AzureKeyVaultConfig{
		VaultURL:           vaultURL,
		TenantID:           cfg.TenantID,
		ClientID:           cfg.ClientID,
		ClientSecret:       os.Getenv("AZURE_CLIENT_SECRET"),
		UseManagedIdentity: cfg.ManagedIdentity,
		Timeout:            cfg.Timeout(),
	})
}

// NewSQLStoreFactory opens the database store.
func NewSQLStoreFactory(ctx context.Context, cfg config.StoreConfig) (store.Client, error) {
	return NewSQLStore(ctx, SQLStoreConfig{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		TablePrefix: cfg.TablePrefix,
		AutoMigrate: cfg.AutoMigrate,
		Timeout:     cfg.Timeout(),
	})
}

// NewMemoryStoreFactory builds an empty in-process store.
func NewMemoryStoreFactory(_ context.Context, _ config.StoreConfig) (store.Client, error) {
	return store.NewMemory(), nil
}
