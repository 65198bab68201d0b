package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/rs/zerolog/log"
)

// DeviceService manages the device registry.
type DeviceService struct {
	store  storage.Store
	topics *TopicService
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(store storage.Store, topics *TopicService) *DeviceService {
	return &DeviceService{store: store, topics: topics}
}

// RegisterOrReplace registers a device, superseding any existing record for
// the same (platform device id, platform) pair. Token rotation always
// replaces, never merges: one physical device maps to one logical record.
func (s *DeviceService) RegisterOrReplace(ctx context.Context, ownerID, platformDeviceID string, platform model.Platform, pushToken string) (*model.Device, error) {
	if strings.TrimSpace(platformDeviceID) == "" {
		return nil, fmt.Errorf("platform device id is required")
	}
	if !platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	existing, err := s.store.GetDeviceByHardware(ctx, platformDeviceID, platform)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if err := s.store.DeleteDevice(ctx, existing.ID); err != nil {
			return nil, err
		}
		log.Debug().Str("device", existing.ID).Msg("superseded by re-registration")
	}
	device := &model.Device{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		PlatformDeviceID: platformDeviceID,
		Platform:         platform,
		PushToken:        pushToken,
		LastSeenAt:       time.Now().UTC(),
	}
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// SetPushToken updates the device's push address. When a token appears on
// a device that accumulated subscriptions while unaddressable, the local
// list is synced to the provider.
func (s *DeviceService) SetPushToken(ctx context.Context, deviceID, token string) (*model.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	hadToken := device.PushToken != ""
	device.PushToken = token
	device.LastSeenAt = time.Now().UTC()
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, err
	}
	if !hadToken && token != "" && len(device.Topics) > 0 {
		s.topics.SyncRemote(ctx, device)
	}
	return device, nil
}

// Subscribe adds the device to a topic.
func (s *DeviceService) Subscribe(ctx context.Context, deviceID, topic string) (*model.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.topics.Subscribe(ctx, device, topic); err != nil {
		return nil, err
	}
	return device, nil
}

// Unsubscribe removes the device from a topic.
func (s *DeviceService) Unsubscribe(ctx context.Context, deviceID, topic string) (*model.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.topics.Unsubscribe(ctx, device, topic); err != nil {
		return nil, err
	}
	return device, nil
}

// SubscribeToDefaults joins the standard broadcast topics.
func (s *DeviceService) SubscribeToDefaults(ctx context.Context, deviceID string) (*model.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.topics.SubscribeToDefaults(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// IsActive reports whether the device has not expired.
func (s *DeviceService) IsActive(device *model.Device) bool {
	return device != nil && device.Active(time.Now().UTC())
}

// Get returns a device by id.
func (s *DeviceService) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// List returns all devices.
func (s *DeviceService) List(ctx context.Context) ([]*model.Device, error) {
	return s.store.ListDevices(ctx)
}
