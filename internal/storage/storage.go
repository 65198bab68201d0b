package storage

import (
	"context"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
)

// Store abstracts persistence for devices, preferences, notifications and
// per-recipient read state.
type Store interface {
	UpsertDevice(ctx context.Context, device *model.Device) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	GetDeviceByHardware(ctx context.Context, platformDeviceID string, platform model.Platform) (*model.Device, error)
	GetDeviceByToken(ctx context.Context, token string) (*model.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	ListDevices(ctx context.Context) ([]*model.Device, error)
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]*model.Device, error)
	PurgeExpiredDevices(ctx context.Context, now time.Time) (int, error)

	GetPreference(ctx context.Context, recipientID string) (*model.Preference, error)
	PutPreference(ctx context.Context, pref *model.Preference) error

	InsertNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	ListNotifications(ctx context.Context) ([]*model.Notification, error)
	// ListDue returns pending records due at now in creation order, up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
	// MarkSent transitions pending -> sent. Returns false when the record was
	// not pending (another worker already took it).
	MarkSent(ctx context.Context, id string, suppressed bool) (bool, error)
	// MarkFailed transitions pending -> failed.
	MarkFailed(ctx context.Context, id string) (bool, error)
	// Requeue resets a terminal record to pending for manual reprocessing.
	Requeue(ctx context.Context, id string) error
	PurgeNotifications(ctx context.Context, olderThan time.Time) (int, error)

	GetReadState(ctx context.Context, recipientID, notificationID string) (*model.ReadState, error)
	PutReadState(ctx context.Context, state *model.ReadState) error
	ListReadStates(ctx context.Context, recipientID string) ([]*model.ReadState, error)

	Close() error
}
