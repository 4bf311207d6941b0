// Package manager implements the write path: adding a secret value as a new
// store version tagged with the next application stage label.
//
// Adding a version never makes it live. Applications keep reading the stage
// their pointer variables name until an operator bumps the pointer to the
// number AddVersion returned.
package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/systmms/secretstage/internal/metrics"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/store"
)

// Manager adds versions to secrets in a store.
type Manager struct {
	client store.Client
	naming secret.Naming
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithNaming overrides the default naming conventions.
func WithNaming(n secret.Naming) Option {
	return func(m *Manager) {
		m.naming = n
	}
}

// WithLogger sets the logger used for drift warnings. A nil logger is
// ignored.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager writing to client.
func New(client store.Client, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		naming: secret.DefaultNaming(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// History is the staged view of a secret's version list.
type History struct {
	// Exists is false when the store has no such secret.
	Exists bool

	// Staged is set when at least one version carries a stage label.
	Staged bool

	// Latest is the highest stage carried by any version, and VersionID the
	// version carrying it. Both are zero unless Staged.
	Latest    secret.Stage
	VersionID string

	// Versions is the number of versions the store holds.
	Versions int
}

// AddVersion stores value as a new version of id and labels it with the next
// stage. It returns the new stage's version number.
//
// A new secret gets the first stage. An existing secret gets one past the
// highest stage found on any of its versions. The store sees exactly three
// calls: list, create or put, and update stage.
func (m *Manager) AddVersion(ctx context.Context, id secret.Identity, value, description string) (int, error) {
	if id.IsZero() {
		return 0, secret.IdentityError{}
	}

	history, err := m.History(ctx, id)
	if err != nil {
		return 0, err
	}

	target := secret.FirstStage
	if history.Staged {
		target = history.Latest.Next()
	} else if history.Exists {
		metrics.RecordDrift("write")
		m.logger.Warn("no version stage found on existing secret; it could indicate adding/updating partially failed",
			zap.String("secret", id.Name()),
			zap.Int("versions", history.Versions),
			zap.String("assigned_stage", m.naming.StageLabel(target)),
		)
	}

	payload, err := store.EncodePayload(value)
	if err != nil {
		return 0, err
	}

	var written store.WriteResult
	if history.Exists {
		written, err = m.put(ctx, id, payload)
	} else {
		written, err = m.create(ctx, id, payload, description)
	}
	if err != nil {
		return 0, err
	}

	label := m.naming.StageLabel(target)
	start := time.Now()
	err = m.client.UpdateVersionStage(ctx, id.StoreKey(), written.VersionID, label)
	metrics.RecordStoreCall("UpdateVersionStage", start, err, false)
	if err != nil {
		return 0, fmt.Errorf("failed to label %s with %s: %w", id.StoreKey(), label, err)
	}

	m.logger.Debug("added secret version",
		zap.String("secret", id.Name()),
		zap.String("stage", label),
		zap.String("version_id", written.VersionID),
	)
	return target.Number(), nil
}

// History lists the versions of id and finds its highest stage. A missing
// secret yields a History with Exists false and no error.
//
// Each version contributes the first stage label in its store order; the
// highest of those wins.
func (m *Manager) History(ctx context.Context, id secret.Identity) (History, error) {
	start := time.Now()
	versions, err := m.client.ListVersions(ctx, id.StoreKey())
	notFound := store.IsNotFound(err)
	metrics.RecordStoreCall("ListVersions", start, err, notFound)
	if notFound {
		return History{}, nil
	}
	if err != nil {
		return History{}, fmt.Errorf("failed to list versions of %s: %w", id.StoreKey(), err)
	}
	if len(versions) == 0 {
		return History{}, nil
	}

	h := History{Exists: true, Versions: len(versions)}
	for _, v := range versions {
		stage, ok := m.naming.FindFirstStage(v.StageLabels)
		if !ok {
			continue
		}
		if !h.Staged || stage.Compare(h.Latest) > 0 {
			h.Staged = true
			h.Latest = stage
			h.VersionID = v.VersionID
		}
	}
	return h, nil
}

func (m *Manager) create(ctx context.Context, id secret.Identity, payload, description string) (store.WriteResult, error) {
	start := time.Now()
	res, err := m.client.CreateSecret(ctx, id.StoreKey(), payload, description)
	metrics.RecordStoreCall("CreateSecret", start, err, false)
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to create secret %s: %w", id.StoreKey(), err)
	}
	return res, nil
}

func (m *Manager) put(ctx context.Context, id secret.Identity, payload string) (store.WriteResult, error) {
	start := time.Now()
	res, err := m.client.PutSecretValue(ctx, id.StoreKey(), payload)
	metrics.RecordStoreCall("PutSecretValue", start, err, false)
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to put value for %s: %w", id.StoreKey(), err)
	}
	return res, nil
}
