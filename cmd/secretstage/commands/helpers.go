package commands

import (
	"context"

	"github.com/systmms/secretstage/internal/config"
	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/metrics"
	"github.com/systmms/secretstage/internal/providers"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secretstage"
	"github.com/systmms/secretstage/pkg/store"
)

// registry builds the configured store. Tests swap in their own factories.
var registry = providers.NewRegistry()

// loadConfig loads cfg once per invocation and turns on metrics when a
// textfile is configured.
func loadConfig(cfg *config.Config) error {
	if cfg.Definition != nil {
		return nil
	}
	if err := cfg.Load(); err != nil {
		return err
	}
	if cfg.Definition.Metrics.Textfile != "" {
		metrics.InitMetrics()
	}
	return nil
}

// openStore creates the store named in the configuration.
func openStore(ctx context.Context, cfg *config.Config) (store.Client, error) {
	if err := loadConfig(cfg); err != nil {
		return nil, err
	}
	storeCfg := cfg.Definition.Store
	client, err := registry.CreateStore(ctx, storeCfg)
	if err != nil {
		return nil, sserrors.StoreError(storeCfg.Type, "connect", err)
	}
	cfg.Logger.Debug("Using %s store", storeCfg.Type)
	return client, nil
}

// loadOptions are the flags shared by load and exec.
type loadOptions struct {
	policy string
	force  []string
}

// newClient builds the facade from configuration, with flag overrides.
func newClient(ctx context.Context, cfg *config.Config, opts loadOptions) (*secretstage.Client, error) {
	client, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	def := cfg.Definition

	policy := def.Policy()
	if opts.policy != "" {
		policy, err = reconcile.ParsePolicy(opts.policy)
		if err != nil {
			return nil, sserrors.UserError{
				Message:    "Invalid --policy value",
				Details:    err.Error(),
				Suggestion: "Use raise, preserve or overwrite",
				Err:        err,
			}
		}
	}

	return secretstage.New(client,
		secretstage.WithNaming(def.Naming()),
		secretstage.WithLogger(cfg.Logger.Zap()),
		secretstage.WithEnabled(def.Enabled),
		secretstage.WithFailOnMissing(def.RaiseIfSecretNotFound),
		secretstage.WithBatchLimit(def.MaxSecretsPerFetch),
		secretstage.WithPolicy(policy),
		secretstage.WithForceOverwrite(def.ForcedOverwriteNames...),
		secretstage.WithForceOverwrite(opts.force...),
	), nil
}

// FlushMetrics writes the metrics textfile when one is configured.
func FlushMetrics(cfg *config.Config) error {
	if cfg.Definition == nil || cfg.Definition.Metrics.Textfile == "" || !metrics.IsMetricsRegistered() {
		return nil
	}
	return metrics.WriteTextfile(cfg.Definition.Metrics.Textfile)
}
