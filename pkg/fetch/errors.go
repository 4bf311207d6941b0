package fetch

import (
	"fmt"
	"strings"

	"github.com/systmms/secretstage/pkg/store"
)

// Missing names a secret, or a secret at a stage, that the store does not
// hold.
type Missing struct {
	StoreKey string
	// Label is empty when the whole secret is missing.
	Label string
}

func (m Missing) String() string {
	if m.Label == "" {
		return m.StoreKey
	}
	return m.StoreKey + "@" + m.Label
}

// MissingSecretsError is returned when required secrets or stages are not
// found.
type MissingSecretsError struct {
	Missing []Missing
}

func (e *MissingSecretsError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = m.String()
	}
	return "couldn't find some secrets: " + strings.Join(names, ", ")
}

// StoreKeys lists the missing store keys.
func (e *MissingSecretsError) StoreKeys() []string {
	keys := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		keys[i] = m.StoreKey
	}
	return keys
}

// AdditionalSecretsError is returned when a batch response signals further
// pages. Batches never exceed the store's own page size, so this points at a
// batch limit configured above what the store supports.
type AdditionalSecretsError struct {
	BatchSize int
}

func (e *AdditionalSecretsError) Error() string {
	return fmt.Sprintf("the store signalled more results for a batch of %d secrets, but paging is not supported", e.BatchSize)
}

// FetchingSecretsError is returned for store failures other than not-found
// during a batch read. Either Items lists the per-secret failures or Err
// holds the failure of the batch call itself.
type FetchingSecretsError struct {
	Items []store.ItemError
	Err   error
}

func (e *FetchingSecretsError) Error() string {
	if e.Err != nil {
		return "errors from secret store: " + e.Err.Error()
	}
	parts := make([]string, len(e.Items))
	for i, item := range e.Items {
		parts[i] = fmt.Sprintf("%s: %s (%s)", item.StoreKey, item.Code, item.Message)
	}
	return "errors from secret store: " + strings.Join(parts, "; ")
}

func (e *FetchingSecretsError) Unwrap() error {
	return e.Err
}
