package localstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOutbox_InsertListDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.InsertOutbox(ctx, localstore.OutboxEntry{
			LocalID:   id,
			Kind:      "update_status",
			Token:     "LB-20240115-0001",
			Payload:   []byte(`{"status":"washing"}`),
			CreatedAt: created,
		})
		require.NoError(t, err)
	}

	entries, err := store.ListOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].LocalID, entries[1].LocalID, entries[2].LocalID})
	assert.True(t, created.Equal(entries[0].CreatedAt))
	assert.Equal(t, 0, entries[0].Attempts)
	assert.False(t, entries[0].Parked)

	require.NoError(t, store.DeleteOutbox(ctx, "b"))
	entries, err = store.ListOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[1].LocalID)

	_, err = store.GetOutbox(ctx, "b")
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestOutbox_DuplicateLocalIDRejected(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	e := localstore.OutboxEntry{LocalID: "dup", Kind: "create_order", Token: "LB-20240115-0001", Payload: []byte(`{}`), CreatedAt: time.Now()}

	_, err := store.InsertOutbox(ctx, e)
	require.NoError(t, err)
	_, err = store.InsertOutbox(ctx, e)
	assert.Error(t, err)
}

func TestOutbox_RecordFailureParksAtLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.InsertOutbox(ctx, localstore.OutboxEntry{LocalID: "x", Kind: "create_order", Token: "LB-20240115-0001", Payload: []byte(`{}`), CreatedAt: time.Now()})
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	attempts, parked, err := store.RecordFailure(ctx, "x", "timeout", at, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, parked)

	attempts, parked, err = store.RecordFailure(ctx, "x", "timeout", at, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.False(t, parked)

	attempts, parked, err = store.RecordFailure(ctx, "x", "503", at.Add(time.Minute), 3, false)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, parked)

	got, err := store.GetOutbox(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "503", got.LastError)
	assert.True(t, got.Parked)
	assert.True(t, at.Add(time.Minute).Equal(got.LastAttemptAt))
	assert.Equal(t, "create_order", got.Kind, "entry itself is untouched")

	require.NoError(t, store.ResetFailure(ctx, "x"))
	got, err = store.GetOutbox(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
	assert.False(t, got.Parked)

	assert.ErrorIs(t, store.ResetFailure(ctx, "missing"), localstore.ErrNotFound)
}

func TestOutbox_RecordFailureParkImmediately(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.InsertOutbox(ctx, localstore.OutboxEntry{LocalID: "x", Kind: "update_status", Token: "LB-20240115-0001", Payload: []byte(`{}`), CreatedAt: time.Now()})
	require.NoError(t, err)

	attempts, parked, err := store.RecordFailure(ctx, "x", "404", time.Now(), 5, true)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, parked)
}

func TestOverrides_PutListDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	status := order.StatusReady
	room := "214"
	require.NoError(t, store.PutOverride(ctx, localstore.Override{
		Token:     "LB-20240115-0001",
		Status:    &status,
		Room:      &room,
		UpdatedAt: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}))

	priority := order.PriorityUrgent
	require.NoError(t, store.PutOverride(ctx, localstore.Override{
		Token:     "LB-20240115-0002",
		Priority:  &priority,
		UpdatedAt: time.Now(),
		Confirmed: true,
	}))

	overrides, err := store.Overrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	first := overrides["LB-20240115-0001"]
	require.NotNil(t, first.Status)
	assert.Equal(t, order.StatusReady, *first.Status)
	assert.Equal(t, "214", *first.Room)
	assert.Nil(t, first.Priority)
	assert.Nil(t, first.CustomerName)
	assert.False(t, first.Confirmed)

	second := overrides["LB-20240115-0002"]
	assert.True(t, second.Confirmed)
	assert.Equal(t, order.PriorityUrgent, *second.Priority)

	// put replaces every field
	require.NoError(t, store.PutOverride(ctx, localstore.Override{Token: "LB-20240115-0001", Room: &room, UpdatedAt: time.Now()}))
	overrides, err = store.Overrides(ctx)
	require.NoError(t, err)
	assert.Nil(t, overrides["LB-20240115-0001"].Status)

	require.NoError(t, store.DeleteOverride(ctx, "LB-20240115-0002"))
	overrides, err = store.Overrides(ctx)
	require.NoError(t, err)
	assert.NotContains(t, overrides, "LB-20240115-0002")
}

func TestCache_PutGetTrim(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	const name = "laundry-dynamic-v1"

	_, err := store.GetCache(ctx, name, "/orders")
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	for _, key := range []string{"/a", "/b", "/c"} {
		require.NoError(t, store.PutCache(ctx, name, key, []byte(key), time.Now()))
	}
	// re-put moves /a to the back of the queue
	require.NoError(t, store.PutCache(ctx, name, "/a", []byte("fresh"), time.Now()))

	keys, err := store.CacheKeys(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"/b", "/c", "/a"}, keys)

	removed, err := store.TrimCache(ctx, name, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err = store.CacheKeys(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"/c", "/a"}, keys)

	got, err := store.GetCache(ctx, name, "/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got.Body)
}

func TestCache_NamesAndDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutCache(ctx, "laundry-static-v1", "/static/app.css", []byte("css"), time.Now()))
	require.NoError(t, store.PutCache(ctx, "laundry-static-v2", "/static/app.css", []byte("css2"), time.Now()))

	names, err := store.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"laundry-static-v1", "laundry-static-v2"}, names)

	require.NoError(t, store.DeleteCache(ctx, "laundry-static-v1"))
	names, err = store.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"laundry-static-v2"}, names)
}

func TestOpen_SharedFileBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	writer, err := localstore.Open(ctx, path)
	require.NoError(t, err)
	_, err = writer.InsertOutbox(ctx, localstore.OutboxEntry{LocalID: "q", Kind: "create_order", Token: "LB-20240115-0001", Payload: []byte(`{}`), CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := localstore.Open(ctx, path)
	require.NoError(t, err)
	defer reader.Close()

	entries, err := reader.ListOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q", entries[0].LocalID)
}
