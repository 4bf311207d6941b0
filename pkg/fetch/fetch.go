// Package fetch implements the read path: resolving a set of desired stages
// into plaintext values keyed by environment variable name.
//
// Values are read in batches at the store's current version. A secret whose
// desired stage differs from the stage on its current version costs one
// extra single-secret read at that stage.
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/systmms/secretstage/internal/metrics"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/store"
)

// DefaultBatchLimit is the most secrets AWS Secrets Manager returns from one
// batch read.
const DefaultBatchLimit = 20

// Fetcher resolves desired stages against a store.
type Fetcher struct {
	client        store.Client
	naming        secret.Naming
	logger        *zap.Logger
	batchLimit    int
	failOnMissing bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithNaming overrides the default naming conventions.
func WithNaming(n secret.Naming) Option {
	return func(f *Fetcher) {
		f.naming = n
	}
}

// WithLogger sets the logger for drift and not-found warnings. A nil logger
// is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBatchLimit sets how many secrets go into one batch read. Values below
// one are ignored.
func WithBatchLimit(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.batchLimit = n
		}
	}
}

// WithFailOnMissing controls whether a missing secret or stage fails the
// fetch. When false, the miss is logged and tolerated. Defaults to true.
func WithFailOnMissing(fail bool) Option {
	return func(f *Fetcher) {
		f.failOnMissing = fail
	}
}

// New creates a Fetcher reading from client.
func New(client store.Client, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        client,
		naming:        secret.DefaultNaming(),
		logger:        zap.NewNop(),
		batchLimit:    DefaultBatchLimit,
		failOnMissing: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SecretValuesByEnvName resolves every secret in desired and returns the
// plaintext values keyed by upper-cased bare name.
//
// Secrets missing from the store are left out of the result when misses are
// tolerated. A pinned stage that is missing yields an empty value.
func (f *Fetcher) SecretValuesByEnvName(ctx context.Context, desired secret.DesiredStages) (map[string]string, error) {
	ids := desired.Identities()
	byKey := make(map[string]secret.Identity, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		byKey[id.StoreKey()] = id
		keys[i] = id.StoreKey()
	}

	current, err := f.fetchCurrent(ctx, keys)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(current))
	for _, v := range current {
		id, ok := byKey[v.StoreKey]
		if !ok {
			return nil, fmt.Errorf("store returned unrequested secret %q", v.StoreKey)
		}

		value, err := f.resolve(ctx, id, desired.Stage(id), v)
		if err != nil {
			return nil, err
		}
		values[id.EnvName()] = value
	}
	return values, nil
}

// fetchCurrent reads keys in consecutive batches of at most batchLimit.
func (f *Fetcher) fetchCurrent(ctx context.Context, keys []string) ([]store.Value, error) {
	var values []store.Value
	for start := 0; start < len(keys); start += f.batchLimit {
		end := min(start+f.batchLimit, len(keys))
		batch := keys[start:end]

		metrics.RecordBatchSize(len(batch))
		began := time.Now()
		res, err := f.client.BatchGetCurrent(ctx, batch)
		metrics.RecordStoreCall("BatchGetCurrent", began, err, false)
		if err != nil {
			return nil, &FetchingSecretsError{Err: err}
		}
		if err := f.validate(batch, res); err != nil {
			return nil, err
		}
		values = append(values, res.Values...)
	}
	return values, nil
}

func (f *Fetcher) validate(batch []string, res store.BatchResult) error {
	if res.MorePages {
		return &AdditionalSecretsError{BatchSize: len(batch)}
	}

	var notFound []Missing
	var other []store.ItemError
	for _, item := range res.Errors {
		if item.IsNotFound() {
			notFound = append(notFound, Missing{StoreKey: item.StoreKey})
		} else {
			other = append(other, item)
		}
	}
	if len(other) > 0 {
		return &FetchingSecretsError{Items: other}
	}
	if len(notFound) == 0 {
		return nil
	}

	missing := &MissingSecretsError{Missing: notFound}
	if f.failOnMissing {
		return missing
	}
	f.logger.Warn(missing.Error(), zap.Strings("store_keys", missing.StoreKeys()))
	return nil
}

func (f *Fetcher) resolve(ctx context.Context, id secret.Identity, desired secret.Stage, v store.Value) (string, error) {
	current, ok := f.naming.FindFirstStage(v.StageLabels)
	if !ok {
		metrics.RecordDrift("read")
		f.logger.Warn("version stage missing for secret; it could indicate adding/updating partially failed",
			zap.String("secret", id.Name()),
			zap.Strings("stage_labels", v.StageLabels),
		)
		current = desired
	}

	if desired.IsNewest() || desired == current {
		return decode(id, v.Payload)
	}

	label := f.naming.StageLabel(desired)
	start := time.Now()
	pinned, err := f.client.GetAtStage(ctx, id.StoreKey(), label)
	notFound := store.IsNotFound(err)
	metrics.RecordStoreCall("GetAtStage", start, err, notFound)
	if err == nil || notFound {
		metrics.RecordFallback(err == nil)
	}

	switch {
	case notFound:
		missing := &MissingSecretsError{Missing: []Missing{{StoreKey: id.StoreKey(), Label: label}}}
		if f.failOnMissing {
			return "", missing
		}
		f.logger.Warn(fmt.Sprintf("unable to find %s at version stage %s", id.StoreKey(), label),
			zap.String("secret", id.Name()),
			zap.String("stage", label),
		)
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to read %s at stage %s: %w", id.StoreKey(), label, err)
	}

	return decode(id, pinned.Payload)
}

func decode(id secret.Identity, payload string) (string, error) {
	value, err := store.DecodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", id.Name(), err)
	}
	return value, nil
}
