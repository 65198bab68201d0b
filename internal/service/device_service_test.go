package service

import (
	"context"
	"testing"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeviceHarness(t *testing.T) (storage.Store, *DeviceService) {
	t.Helper()
	store := newTestStore(t)
	topics := NewTopicService(store, &fakeGateway{})
	return store, NewDeviceService(store, topics)
}

func TestRegisterOrReplaceSupersedes(t *testing.T) {
	store, devices := newDeviceHarness(t)
	ctx := context.Background()

	first, err := devices.RegisterOrReplace(ctx, "alice", "iphone-15", model.PlatformIOS, "tok-old")
	require.NoError(t, err)

	second, err := devices.RegisterOrReplace(ctx, "alice", "iphone-15", model.PlatformIOS, "tok-new")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "re-registration issues a fresh record")

	_, err = store.GetDevice(ctx, first.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "old record is gone")

	stored, err := store.GetDevice(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-new", stored.PushToken)

	all, err := devices.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterOrReplaceKeysOnHardwarePair(t *testing.T) {
	_, devices := newDeviceHarness(t)
	ctx := context.Background()

	_, err := devices.RegisterOrReplace(ctx, "alice", "serial-1", model.PlatformIOS, "tok-a")
	require.NoError(t, err)
	// same hardware id on a different platform is a different device
	_, err = devices.RegisterOrReplace(ctx, "alice", "serial-1", model.PlatformAndroid, "tok-b")
	require.NoError(t, err)

	all, err := devices.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegisterOrReplaceValidates(t *testing.T) {
	_, devices := newDeviceHarness(t)
	ctx := context.Background()

	_, err := devices.RegisterOrReplace(ctx, "alice", "  ", model.PlatformIOS, "tok")
	assert.Error(t, err)

	_, err = devices.RegisterOrReplace(ctx, "alice", "serial-1", model.Platform("blackberry"), "tok")
	assert.Error(t, err)
}

func TestIsActiveHonorsExpiry(t *testing.T) {
	store, devices := newDeviceHarness(t)
	ctx := context.Background()

	device, err := devices.RegisterOrReplace(ctx, "alice", "serial-1", model.PlatformIOS, "tok")
	require.NoError(t, err)
	assert.True(t, devices.IsActive(device), "no expiry means active")

	past := time.Now().UTC().Add(-time.Hour)
	device.ExpiresAt = &past
	require.NoError(t, store.UpsertDevice(ctx, device))
	assert.False(t, devices.IsActive(device))

	future := time.Now().UTC().Add(time.Hour)
	device.ExpiresAt = &future
	assert.True(t, devices.IsActive(device))
}

func TestExpiredDeviceDropsOutOfDelivery(t *testing.T) {
	store, devices := newDeviceHarness(t)
	gw := &fakeGateway{}
	prefs := NewPreferenceService(store)
	d := NewDispatcher(store, prefs, gw, DispatcherOptions{})
	ctx := context.Background()

	device, err := devices.RegisterOrReplace(ctx, "alice", "serial-1", model.PlatformIOS, "tok-stale")
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	device.ExpiresAt = &past
	require.NoError(t, store.UpsertDevice(ctx, device))

	n := queueNotification(t, store, model.TokensTarget("tok-stale"), "system")
	res, err := d.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Processed: 1}, res)
	assert.Zero(t, gw.sentCount())

	_, err = store.GetNotification(ctx, n.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
