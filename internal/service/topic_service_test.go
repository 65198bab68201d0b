package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerDevice(t *testing.T, devices *DeviceService, owner string, platform model.Platform, token string) *model.Device {
	t.Helper()
	device, err := devices.RegisterOrReplace(context.Background(), owner, "hw-"+owner+"-"+string(platform), platform, token)
	require.NoError(t, err)
	return device
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	gw := &fakeGateway{}
	topics := NewTopicService(store, gw)
	devices := NewDeviceService(store, topics)
	ctx := context.Background()

	device := registerDevice(t, devices, "alice", model.PlatformIOS, "tok-1")

	changed, err := topics.Subscribe(ctx, device, "promo")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = topics.Subscribe(ctx, device, "promo")
	require.NoError(t, err)
	assert.False(t, changed, "double subscribe is a no-op")

	changed, err = topics.Unsubscribe(ctx, device, "promo")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = topics.Unsubscribe(ctx, device, "promo")
	require.NoError(t, err)
	assert.False(t, changed, "double unsubscribe is a no-op")

	stored, err := store.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Topics, "promo")
}

func TestSubscribeToDefaults(t *testing.T) {
	store := newTestStore(t)
	topics := NewTopicService(store, &fakeGateway{})
	devices := NewDeviceService(store, topics)
	ctx := context.Background()

	ios := registerDevice(t, devices, "alice", model.PlatformIOS, "tok-ios")
	require.NoError(t, topics.SubscribeToDefaults(ctx, ios))
	assert.ElementsMatch(t, []string{"all_devices", "ios_devices"}, ios.Topics)

	android := registerDevice(t, devices, "bob", model.PlatformAndroid, "tok-android")
	require.NoError(t, topics.SubscribeToDefaults(ctx, android))
	assert.ElementsMatch(t, []string{"all_devices", "android_devices"}, android.Topics)

	// no push token, defaults deferred
	tokenless := registerDevice(t, devices, "carol", model.PlatformIOS, "")
	require.NoError(t, topics.SubscribeToDefaults(ctx, tokenless))
	assert.Empty(t, tokenless.Topics)
}

func TestSubscribeLocalStateSurvivesRemoteFailure(t *testing.T) {
	store := newTestStore(t)
	gw := &fakeGateway{topicErr: errors.New("gateway down")}
	topics := NewTopicService(store, gw)
	devices := NewDeviceService(store, topics)
	ctx := context.Background()

	device := registerDevice(t, devices, "alice", model.PlatformIOS, "tok-1")
	changed, err := topics.Subscribe(ctx, device, "news")
	require.NoError(t, err, "remote failure must not surface")
	assert.True(t, changed)

	stored, err := store.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Topics, "news", "local list is the source of truth")
}

func TestTokenAssignmentSyncsDeferredSubscriptions(t *testing.T) {
	store := newTestStore(t)
	gw := &fakeGateway{}
	topics := NewTopicService(store, gw)
	devices := NewDeviceService(store, topics)
	ctx := context.Background()

	device := registerDevice(t, devices, "alice", model.PlatformIOS, "")
	_, err := topics.Subscribe(ctx, device, "news")
	require.NoError(t, err)
	assert.Empty(t, gw.topicCalls, "no token means local bookkeeping only")

	_, err = devices.SetPushToken(ctx, device.ID, "tok-late")
	require.NoError(t, err)
	assert.Contains(t, gw.topicCalls, "subscribe:news")
}
