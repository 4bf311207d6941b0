package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MemoryStoreName identifies the in-memory store in errors.
	MemoryStoreName = "memory"

	// CurrentLabel is the label the store moves to the newest version on every
	// write, mirroring AWS Secrets Manager.
	CurrentLabel = "AWSCURRENT"

	// PreviousLabel is moved to the prior current version on every put.
	PreviousLabel = "AWSPREVIOUS"
)

// Memory is an in-memory Client. It follows AWS Secrets Manager staging
// semantics: writes move CurrentLabel to the new version, and a label is
// attached to at most one version of a secret at a time.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string]*memorySecret
	now     func() time.Time

	// MaxBatchResults caps the values returned by one BatchGetCurrent call.
	// When exceeded, the result is truncated and MorePages is set. Zero
	// means no cap.
	MaxBatchResults int
}

type memorySecret struct {
	description string
	versions    []*memoryVersion
}

type memoryVersion struct {
	id        string
	payload   string
	labels    []string
	createdAt time.Time
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		secrets: make(map[string]*memorySecret),
		now:     time.Now,
	}
}

// Keys returns the stored secret keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListVersions implements Client.
func (m *Memory) ListVersions(ctx context.Context, storeKey string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[storeKey]
	if !ok {
		return nil, &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey}
	}

	out := make([]Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, Version{
			VersionID:   v.id,
			StageLabels: slices.Clone(v.labels),
			CreatedAt:   v.createdAt,
		})
	}
	return out, nil
}

// CreateSecret implements Client.
func (m *Memory) CreateSecret(ctx context.Context, storeKey, payload, description string) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[storeKey]; ok {
		return WriteResult{}, &ExistsError{Store: MemoryStoreName, StoreKey: storeKey}
	}

	v := m.newVersion(payload, CurrentLabel)
	m.secrets[storeKey] = &memorySecret{
		description: description,
		versions:    []*memoryVersion{v},
	}
	return WriteResult{VersionID: v.id}, nil
}

// PutSecretValue implements Client.
func (m *Memory) PutSecretValue(ctx context.Context, storeKey, payload string) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[storeKey]
	if !ok {
		return WriteResult{}, &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey}
	}

	s.detach(PreviousLabel)
	for _, v := range s.versions {
		if slices.Contains(v.labels, CurrentLabel) {
			v.labels = removeLabel(v.labels, CurrentLabel)
			v.labels = append(v.labels, PreviousLabel)
		}
	}

	v := m.newVersion(payload, CurrentLabel)
	s.versions = append(s.versions, v)
	return WriteResult{VersionID: v.id}, nil
}

// UpdateVersionStage implements Client. The label is detached from any other
// version of the secret.
func (m *Memory) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[storeKey]
	if !ok {
		return &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey}
	}

	target := s.version(versionID)
	if target == nil {
		return &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey, Label: label}
	}
	if slices.Contains(target.labels, label) {
		return nil
	}

	s.detach(label)
	target.labels = append(target.labels, label)
	return nil
}

// BatchGetCurrent implements Client.
func (m *Memory) BatchGetCurrent(ctx context.Context, storeKeys []string) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result BatchResult
	for _, key := range storeKeys {
		s, ok := m.secrets[key]
		if !ok {
			result.Errors = append(result.Errors, ItemError{
				StoreKey: key,
				Code:     ErrCodeNotFound,
				Message:  "Secrets Manager can't find the specified secret.",
			})
			continue
		}

		v := s.labelled(CurrentLabel)
		if v == nil {
			continue
		}
		if m.MaxBatchResults > 0 && len(result.Values) == m.MaxBatchResults {
			result.MorePages = true
			continue
		}
		result.Values = append(result.Values, v.value(key))
	}
	return result, nil
}

// GetAtStage implements Client.
func (m *Memory) GetAtStage(ctx context.Context, storeKey, label string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[storeKey]
	if !ok {
		return Value{}, &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey}
	}

	v := s.labelled(label)
	if v == nil {
		return Value{}, &NotFoundError{Store: MemoryStoreName, StoreKey: storeKey, Label: label}
	}
	return v.value(storeKey), nil
}

func (m *Memory) newVersion(payload string, labels ...string) *memoryVersion {
	return &memoryVersion{
		id:        uuid.NewString(),
		payload:   payload,
		labels:    labels,
		createdAt: m.now(),
	}
}

func (s *memorySecret) version(id string) *memoryVersion {
	for _, v := range s.versions {
		if v.id == id {
			return v
		}
	}
	return nil
}

func (s *memorySecret) labelled(label string) *memoryVersion {
	for _, v := range s.versions {
		if slices.Contains(v.labels, label) {
			return v
		}
	}
	return nil
}

func (s *memorySecret) detach(label string) {
	for _, v := range s.versions {
		v.labels = removeLabel(v.labels, label)
	}
}

func (v *memoryVersion) value(storeKey string) Value {
	return Value{
		StoreKey:    storeKey,
		VersionID:   v.id,
		Payload:     v.payload,
		StageLabels: slices.Clone(v.labels),
	}
}

func removeLabel(labels []string, label string) []string {
	return slices.DeleteFunc(labels, func(l string) bool { return l == label })
}
