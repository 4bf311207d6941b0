package fakes

import (
	"context"
	"sync"

	"github.com/systmms/secretstage/pkg/store"
)

// Store operation names, as recorded by FakeStore.
const (
	OpListVersions       = "ListVersions"
	OpCreateSecret       = "CreateSecret"
	OpPutSecretValue     = "PutSecretValue"
	OpUpdateVersionStage = "UpdateVersionStage"
	OpBatchGetCurrent    = "BatchGetCurrent"
	OpGetAtStage         = "GetAtStage"
)

// Call is one recorded store operation.
type Call struct {
	Op   string
	Keys []string
	// Label is set for UpdateVersionStage and GetAtStage.
	Label string
}

// FakeStore is a manual fake implementation of store.Client.
//
// It is backed by a store.Memory and records every call in order, so tests
// can assert both outcomes and the exact sequence of store round trips.
//
// Example usage:
//
//	fake := fakes.NewFakeStore().
//	    WithSecret("app/db_password", "hunter2", "CLEO-001").
//	    WithError(fakes.OpGetAtStage, "app/api_key", errors.New("throttled"))
//
//	m := manager.New(fake)
type FakeStore struct {
	*store.Memory

	// BatchGetCurrentFunc replaces the batch read when set.
	BatchGetCurrentFunc func(ctx context.Context, storeKeys []string) (store.BatchResult, error)

	mu     sync.Mutex
	calls  []Call
	failOn map[string]error // op + "\x00" + key -> error
}

var _ store.Client = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Memory: store.NewMemory(),
		failOn: make(map[string]error),
	}
}

// WithSecret seeds a secret holding value, with labels attached to its only
// version. Seeding is not recorded as a call.
func (f *FakeStore) WithSecret(storeKey, value string, labels ...string) *FakeStore {
	return f.WithVersion(storeKey, value, labels...)
}

// WithVersion appends a version holding value to storeKey, creating the
// secret if needed, and attaches labels to it.
func (f *FakeStore) WithVersion(storeKey, value string, labels ...string) *FakeStore {
	ctx := context.Background()

	payload, err := store.EncodePayload(value)
	if err != nil {
		panic(err)
	}

	var res store.WriteResult
	if _, err := f.Memory.ListVersions(ctx, storeKey); store.IsNotFound(err) {
		res, err = f.Memory.CreateSecret(ctx, storeKey, payload, "")
		if err != nil {
			panic(err)
		}
	} else {
		res, err = f.Memory.PutSecretValue(ctx, storeKey, payload)
		if err != nil {
			panic(err)
		}
	}

	for _, label := range labels {
		if err := f.Memory.UpdateVersionStage(ctx, storeKey, res.VersionID, label); err != nil {
			panic(err)
		}
	}
	return f
}

// WithError makes op fail with err for storeKey. For BatchGetCurrent the
// error is returned when storeKey is part of the batch.
func (f *FakeStore) WithError(op, storeKey string, err error) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failOn[op+"\x00"+storeKey] = err
	return f
}

// Calls returns the recorded calls in order.
func (f *FakeStore) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (f *FakeStore) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the recorded operation names in order.
func (f *FakeStore) Ops() []string {
	calls := f.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// ListVersions implements store.Client.
func (f *FakeStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	if err := f.record(Call{Op: OpListVersions, Keys: []string{storeKey}}); err != nil {
		return nil, err
	}
	return f.Memory.ListVersions(ctx, storeKey)
}

// CreateSecret implements store.Client.
func (f *FakeStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	if err := f.record(Call{Op: OpCreateSecret, Keys: []string{storeKey}}); err != nil {
		return store.WriteResult{}, err
	}
	return f.Memory.CreateSecret(ctx, storeKey, payload, description)
}

// PutSecretValue implements store.Client.
func (f *FakeStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	if err := f.record(Call{Op: OpPutSecretValue, Keys: []string{storeKey}}); err != nil {
		return store.WriteResult{}, err
	}
	return f.Memory.PutSecretValue(ctx, storeKey, payload)
}

// UpdateVersionStage implements store.Client.
func (f *FakeStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	if err := f.record(Call{Op: OpUpdateVersionStage, Keys: []string{storeKey}, Label: label}); err != nil {
		return err
	}
	return f.Memory.UpdateVersionStage(ctx, storeKey, versionID, label)
}

// BatchGetCurrent implements store.Client.
func (f *FakeStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	keys := make([]string, len(storeKeys))
	copy(keys, storeKeys)
	if err := f.record(Call{Op: OpBatchGetCurrent, Keys: keys}); err != nil {
		return store.BatchResult{}, err
	}
	if f.BatchGetCurrentFunc != nil {
		return f.BatchGetCurrentFunc(ctx, storeKeys)
	}
	return f.Memory.BatchGetCurrent(ctx, storeKeys)
}

// GetAtStage implements store.Client.
func (f *FakeStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	if err := f.record(Call{Op: OpGetAtStage, Keys: []string{storeKey}, Label: label}); err != nil {
		return store.Value{}, err
	}
	return f.Memory.GetAtStage(ctx, storeKey, label)
}

func (f *FakeStore) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
	for _, key := range c.Keys {
		if err, ok := f.failOn[c.Op+"\x00"+key]; ok {
			return err
		}
	}
	return nil
}
