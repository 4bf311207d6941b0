package store

import (
	"context"
	"errors"
	"time"
)

// ErrCodeNotFound is the per-item error code for a missing secret in a batch
// response.
const ErrCodeNotFound = "ResourceNotFoundException"

// Client is the set of store operations the read and write paths need.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// ListVersions lists the versions of a secret with their stage labels.
	// A missing secret is reported as a not-found error.
	ListVersions(ctx context.Context, storeKey string) ([]Version, error)

	// CreateSecret creates a secret whose first version holds payload.
	CreateSecret(ctx context.Context, storeKey, payload, description string) (WriteResult, error)

	// PutSecretValue adds a new version holding payload to an existing secret.
	PutSecretValue(ctx context.Context, storeKey, payload string) (WriteResult, error)

	// UpdateVersionStage attaches label to the version identified by versionID.
	UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error

	// BatchGetCurrent reads the store's current version of every key in one
	// call. Per-item failures are reported in the result, not as an error.
	BatchGetCurrent(ctx context.Context, storeKeys []string) (BatchResult, error)

	// GetAtStage reads the version carrying label. A missing secret or label
	// is reported as a not-found error.
	GetAtStage(ctx context.Context, storeKey, label string) (Value, error)
}

// Version is one entry of a secret's version history.
type Version struct {
	VersionID   string
	StageLabels []string
	CreatedAt   time.Time
}

// WriteResult identifies the version created by a write.
type WriteResult struct {
	VersionID string
}

// Value is a secret version as read from the store. StageLabels keep the
// store's native order.
type Value struct {
	StoreKey    string
	VersionID   string
	Payload     string
	StageLabels []string
}

// ItemError is a per-secret failure inside a batch response.
type ItemError struct {
	StoreKey string
	Code     string
	Message  string
}

// IsNotFound reports whether the item failed because the secret is missing.
func (e ItemError) IsNotFound() bool {
	return e.Code == ErrCodeNotFound
}

// BatchResult is the response to BatchGetCurrent.
type BatchResult struct {
	Values []Value
	Errors []ItemError

	// MorePages is set when the store holds further results behind a
	// continuation token.
	MorePages bool
}

// NotFoundError reports a missing secret, or a missing stage label on an
// existing secret.
type NotFoundError struct {
	Store    string
	StoreKey string
	Label    string
}

func (e *NotFoundError) Error() string {
	if e.Label != "" {
		return "secret not found: " + e.StoreKey + " at stage " + e.Label + " in " + e.Store
	}
	return "secret not found: " + e.StoreKey + " in " + e.Store
}

// IsNotFound reports whether err, or anything it wraps, is a *NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// ExistsError reports an attempt to create a secret that already exists.
type ExistsError struct {
	Store    string
	StoreKey string
}

func (e *ExistsError) Error() string {
	return "secret already exists: " + e.StoreKey + " in " + e.Store
}
