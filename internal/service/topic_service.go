package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pushgate-labs/pushgate/internal/gateway"
	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/rs/zerolog/log"
)

// TopicAllDevices is the broadcast topic every push-capable device joins.
const TopicAllDevices = "all_devices"

// TopicService manages broadcast channel membership. The device's local
// subscription list is the source of truth; provider-side mirroring is
// best-effort and never fatal.
type TopicService struct {
	store   storage.Store
	gateway gateway.Client // nil when unconfigured
}

// NewTopicService builds TopicService.
func NewTopicService(store storage.Store, gw gateway.Client) *TopicService {
	return &TopicService{store: store, gateway: gw}
}

// Subscribe adds the device to a topic. Returns false when the device was
// already subscribed.
func (s *TopicService) Subscribe(ctx context.Context, device *model.Device, topic string) (bool, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return false, fmt.Errorf("topic is required")
	}
	if device.SubscribedTo(topic) {
		return false, nil
	}
	device.Topics = append(slices.Clone(device.Topics), topic)
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return false, err
	}
	s.mirror(ctx, device, topic, true)
	return true, nil
}

// Unsubscribe removes the device from a topic. Unsubscribing twice is a
// no-op, not an error.
func (s *TopicService) Unsubscribe(ctx context.Context, device *model.Device, topic string) (bool, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return false, fmt.Errorf("topic is required")
	}
	if !device.SubscribedTo(topic) {
		return false, nil
	}
	topics := slices.Clone(device.Topics)
	topics = slices.DeleteFunc(topics, func(t string) bool { return t == topic })
	device.Topics = topics
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return false, err
	}
	s.mirror(ctx, device, topic, false)
	return true, nil
}

// SubscribeToDefaults joins the all-devices topic plus the platform topic.
// Devices without a push token are skipped; they sync on token assignment.
func (s *TopicService) SubscribeToDefaults(ctx context.Context, device *model.Device) error {
	if device.PushToken == "" {
		return nil
	}
	if _, err := s.Subscribe(ctx, device, TopicAllDevices); err != nil {
		return err
	}
	if platformTopic := device.Platform.DefaultTopic(); platformTopic != "" {
		if _, err := s.Subscribe(ctx, device, platformTopic); err != nil {
			return err
		}
	}
	return nil
}

// SyncRemote pushes the device's local subscriptions to the provider,
// used after a push token appears on a device with deferred subscriptions.
func (s *TopicService) SyncRemote(ctx context.Context, device *model.Device) {
	if device.PushToken == "" {
		return
	}
	for _, topic := range device.Topics {
		s.mirror(ctx, device, topic, true)
	}
}

// mirror reflects a local subscription change to the provider. Failures
// are logged, never raised: local state already records the intent.
func (s *TopicService) mirror(ctx context.Context, device *model.Device, topic string, subscribe bool) {
	if s.gateway == nil || device.PushToken == "" {
		return
	}
	var err error
	if subscribe {
		err = s.gateway.SubscribeToTopic(ctx, topic, []string{device.PushToken})
	} else {
		err = s.gateway.UnsubscribeFromTopic(ctx, topic, []string{device.PushToken})
	}
	if err != nil {
		log.Warn().
			Str("device", device.ID).
			Str("topic", topic).
			Bool("subscribe", subscribe).
			Err(err).
			Msg("topic mirror failed")
	}
}
