package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "pushgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertPending(t *testing.T, store *Store, id string) *model.Notification {
	t.Helper()
	n := &model.Notification{
		ID:       id,
		Title:    "t",
		Message:  "m",
		Target:   model.TopicTarget("news"),
		Category: model.DefaultCategory,
		Priority: model.PriorityNormal,
		Status:   model.StatusPending,
	}
	require.NoError(t, store.InsertNotification(context.Background(), n))
	return n
}

func TestDeviceRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	device := &model.Device{
		ID:               "d-1",
		OwnerID:          "alice",
		PlatformDeviceID: "serial-1",
		Platform:         model.PlatformIOS,
		PushToken:        "tok-1",
		Topics:           []string{"news"},
	}
	require.NoError(t, store.UpsertDevice(ctx, device))
	assert.False(t, device.CreatedAt.IsZero())

	got, err := store.GetDevice(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.PushToken)
	assert.Equal(t, []string{"news"}, got.Topics)

	byHW, err := store.GetDeviceByHardware(ctx, "serial-1", model.PlatformIOS)
	require.NoError(t, err)
	assert.Equal(t, "d-1", byHW.ID)
	_, err = store.GetDeviceByHardware(ctx, "serial-1", model.PlatformAndroid)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	byToken, err := store.GetDeviceByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "d-1", byToken.ID)

	require.NoError(t, store.DeleteDevice(ctx, "d-1"))
	_, err = store.GetDevice(ctx, "d-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetDeviceByTokenIgnoresEmpty(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDevice(ctx, &model.Device{ID: "d-1", Platform: model.PlatformIOS}))
	_, err := store.GetDeviceByToken(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound, "tokenless devices never match")
}

func TestPurgeExpiredDevices(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, store.UpsertDevice(ctx, &model.Device{ID: "stale", Platform: model.PlatformIOS, ExpiresAt: &past}))
	require.NoError(t, store.UpsertDevice(ctx, &model.Device{ID: "fresh", Platform: model.PlatformIOS, ExpiresAt: &future}))
	require.NoError(t, store.UpsertDevice(ctx, &model.Device{ID: "forever", Platform: model.PlatformIOS}))

	purged, err := store.PurgeExpiredDevices(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	all, err := store.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListDueOrderAndLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		insertPending(t, store, fmt.Sprintf("n-%d", i))
	}
	// a future-scheduled record is not due
	future := time.Now().UTC().Add(time.Hour)
	scheduled := &model.Notification{
		ID:          "n-future",
		Target:      model.TopicTarget("news"),
		Status:      model.StatusPending,
		ScheduledAt: &future,
	}
	require.NoError(t, store.InsertNotification(ctx, scheduled))

	due, err := store.ListDue(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Len(t, due, 5)
	for i, n := range due {
		assert.Equal(t, fmt.Sprintf("n-%d", i), n.ID, "insertion order is preserved")
	}

	limited, err := store.ListDue(ctx, time.Now().UTC(), 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "n-0", limited[0].ID)
}

func TestMarkSentIsCompareAndSwap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	insertPending(t, store, "n-1")

	changed, err := store.MarkSent(ctx, "n-1", false)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkSent(ctx, "n-1", true)
	require.NoError(t, err)
	assert.False(t, changed, "second transition observes non-pending status")

	got, err := store.GetNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.False(t, got.Suppressed, "losing transition must not mutate")
	require.NotNil(t, got.SentAt)

	changed, err = store.MarkFailed(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.MarkSent(ctx, "missing", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkSentSuppressed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	insertPending(t, store, "n-1")

	changed, err := store.MarkSent(ctx, "n-1", true)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.True(t, got.Suppressed)
}

func TestRequeueResetsDeliveryState(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	insertPending(t, store, "n-1")

	_, err := store.MarkSent(ctx, "n-1", true)
	require.NoError(t, err)

	require.NoError(t, store.Requeue(ctx, "n-1"))
	got, err := store.GetNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.False(t, got.Suppressed)
	assert.Nil(t, got.SentAt)
	assert.Nil(t, got.ScheduledAt)

	assert.ErrorIs(t, store.Requeue(ctx, "missing"), storage.ErrNotFound)
}

func TestDeleteNotificationRemovesIndex(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	insertPending(t, store, "n-1")

	require.NoError(t, store.DeleteNotification(ctx, "n-1"))
	_, err := store.GetNotification(ctx, "n-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteNotification(ctx, "n-1"), storage.ErrNotFound)
}

func TestPurgeNotificationsKeepsPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	insertPending(t, store, "old-sent")
	insertPending(t, store, "old-failed")
	insertPending(t, store, "old-pending")
	_, err := store.MarkSent(ctx, "old-sent", false)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, "old-failed")
	require.NoError(t, err)

	// cutoff after creation: everything terminal qualifies
	purged, err := store.PurgeNotifications(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	remaining, err := store.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "old-pending", remaining[0].ID)

	// purged ids are gone from the index too
	_, err = store.GetNotification(ctx, "old-sent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPurgeNotificationsHonorsCutoff(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	insertPending(t, store, "n-1")
	_, err := store.MarkSent(ctx, "n-1", false)
	require.NoError(t, err)

	purged, err := store.PurgeNotifications(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged, "records newer than the cutoff survive")
}

func TestPreferenceRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetPreference(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pref := model.DefaultPreference("alice")
	pref.Categories = map[string]bool{"promo": false}
	require.NoError(t, store.PutPreference(ctx, pref))

	got, err := store.GetPreference(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.False(t, got.CategoryEnabled("promo"))
	assert.True(t, got.CategoryEnabled("social"), "absent categories stay enabled")
}

func TestReadStatePrefixIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReadState(ctx, &model.ReadState{RecipientID: "alice", NotificationID: "n-1"}))
	require.NoError(t, store.PutReadState(ctx, &model.ReadState{RecipientID: "alice", NotificationID: "n-2"}))
	require.NoError(t, store.PutReadState(ctx, &model.ReadState{RecipientID: "alicia", NotificationID: "n-3"}))

	states, err := store.ListReadStates(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, states, 2, "prefix scan must not bleed into other recipients")
	for _, state := range states {
		assert.Equal(t, "alice", state.RecipientID)
		assert.False(t, state.ReadAt.IsZero())
	}

	got, err := store.GetReadState(ctx, "alice", "n-1")
	require.NoError(t, err)
	assert.Equal(t, "n-1", got.NotificationID)
	_, err = store.GetReadState(ctx, "bob", "n-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReadStateRecipientWithSeparator(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReadState(ctx, &model.ReadState{RecipientID: "team", NotificationID: "n-1"}))
	require.NoError(t, store.PutReadState(ctx, &model.ReadState{RecipientID: "team/ops", NotificationID: "n-2"}))

	states, err := store.ListReadStates(ctx, "team")
	require.NoError(t, err)
	require.Len(t, states, 1, "a slash in a recipient id must not extend another recipient's prefix")
	assert.Equal(t, "n-1", states[0].NotificationID)

	states, err = store.ListReadStates(ctx, "team/ops")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "n-2", states[0].NotificationID)

	got, err := store.GetReadState(ctx, "team/ops", "n-2")
	require.NoError(t, err)
	assert.Equal(t, "team/ops", got.RecipientID)
}

func TestContextCancellationPreempts(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListDevices(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.UpsertDevice(ctx, &model.Device{ID: "d"}), context.Canceled)
}
