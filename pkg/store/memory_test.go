package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretstage/pkg/store"
)

func TestMemoryCreateAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.ListVersions(ctx, "/app/db")
	assert.True(t, store.IsNotFound(err))

	res, err := m.CreateSecret(ctx, "/app/db", `{"value":"one"}`, "db password")
	require.NoError(t, err)
	assert.NotEmpty(t, res.VersionID)

	versions, err := m.ListVersions(ctx, "/app/db")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, res.VersionID, versions[0].VersionID)
	assert.Equal(t, []string{store.CurrentLabel}, versions[0].StageLabels)

	_, err = m.CreateSecret(ctx, "/app/db", `{"value":"two"}`, "")
	var exists *store.ExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestMemoryPutMovesCurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	first, err := m.CreateSecret(ctx, "/app/db", `{"value":"one"}`, "")
	require.NoError(t, err)
	second, err := m.PutSecretValue(ctx, "/app/db", `{"value":"two"}`)
	require.NoError(t, err)
	third, err := m.PutSecretValue(ctx, "/app/db", `{"value":"three"}`)
	require.NoError(t, err)

	versions, err := m.ListVersions(ctx, "/app/db")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	labels := map[string][]string{}
	for _, v := range versions {
		labels[v.VersionID] = v.StageLabels
	}
	assert.Empty(t, labels[first.VersionID])
	assert.Equal(t, []string{store.PreviousLabel}, labels[second.VersionID])
	assert.Equal(t, []string{store.CurrentLabel}, labels[third.VersionID])

	_, err = m.PutSecretValue(ctx, "/app/missing", `{"value":"x"}`)
	assert.True(t, store.IsNotFound(err))
}

func TestMemoryUpdateVersionStageMovesLabel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	first, err := m.CreateSecret(ctx, "/app/db", `{"value":"one"}`, "")
	require.NoError(t, err)
	require.NoError(t, m.UpdateVersionStage(ctx, "/app/db", first.VersionID, "CLEO-001"))

	second, err := m.PutSecretValue(ctx, "/app/db", `{"value":"two"}`)
	require.NoError(t, err)
	require.NoError(t, m.UpdateVersionStage(ctx, "/app/db", second.VersionID, "CLEO-001"))

	got, err := m.GetAtStage(ctx, "/app/db", "CLEO-001")
	require.NoError(t, err)
	assert.Equal(t, second.VersionID, got.VersionID)
	assert.Equal(t, `{"value":"two"}`, got.Payload)

	err = m.UpdateVersionStage(ctx, "/app/db", "no-such-version", "CLEO-002")
	assert.True(t, store.IsNotFound(err))
}

func TestMemoryGetAtStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	res, err := m.CreateSecret(ctx, "/app/db", `{"value":"one"}`, "")
	require.NoError(t, err)
	require.NoError(t, m.UpdateVersionStage(ctx, "/app/db", res.VersionID, "CLEO-001"))

	got, err := m.GetAtStage(ctx, "/app/db", "CLEO-001")
	require.NoError(t, err)
	assert.Equal(t, "/app/db", got.StoreKey)
	assert.ElementsMatch(t, []string{store.CurrentLabel, "CLEO-001"}, got.StageLabels)

	_, err = m.GetAtStage(ctx, "/app/db", "CLEO-002")
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "CLEO-002", notFound.Label)

	_, err = m.GetAtStage(ctx, "/app/other", "CLEO-001")
	assert.True(t, store.IsNotFound(err))
}

func TestMemoryBatchGetCurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.CreateSecret(ctx, "/app/a", `{"value":"a"}`, "")
	require.NoError(t, err)
	_, err = m.CreateSecret(ctx, "/app/b", `{"value":"b"}`, "")
	require.NoError(t, err)

	res, err := m.BatchGetCurrent(ctx, []string{"/app/a", "/app/missing", "/app/b"})
	require.NoError(t, err)
	assert.False(t, res.MorePages)
	require.Len(t, res.Values, 2)
	assert.Equal(t, "/app/a", res.Values[0].StoreKey)
	assert.Equal(t, "/app/b", res.Values[1].StoreKey)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "/app/missing", res.Errors[0].StoreKey)
	assert.True(t, res.Errors[0].IsNotFound())
}

func TestMemoryBatchGetCurrentMorePages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()
	m.MaxBatchResults = 1

	for _, key := range []string{"/app/a", "/app/b"} {
		_, err := m.CreateSecret(ctx, key, `{"value":"x"}`, "")
		require.NoError(t, err)
	}

	res, err := m.BatchGetCurrent(ctx, []string{"/app/a", "/app/b"})
	require.NoError(t, err)
	assert.True(t, res.MorePages)
	assert.Len(t, res.Values, 1)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.NewMemory().ListVersions(ctx, "/app/db")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()

	for _, key := range []string{"/b", "/a"} {
		_, err := m.CreateSecret(ctx, key, `{"value":"x"}`, "")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/a", "/b"}, m.Keys())
}
