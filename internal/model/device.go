package model

import (
	"slices"
	"time"
)

// Platform identifies the client platform family of a device.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether p names a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// DefaultTopic returns the platform broadcast topic, empty when the
// platform has none.
func (p Platform) DefaultTopic() string {
	switch p {
	case PlatformIOS:
		return "ios_devices"
	case PlatformAndroid:
		return "android_devices"
	}
	return ""
}

// Device is one logical registration of a client session, with an optional
// push address. At most one non-expired Device exists per
// (PlatformDeviceID, Platform) pair; re-registering rotates the record.
type Device struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId,omitempty"` // empty for anonymous devices
	PlatformDeviceID string     `json:"platformDeviceId"`
	Platform         Platform   `json:"platform"`
	PushToken        string     `json:"pushToken,omitempty"`
	Topics           []string   `json:"topics,omitempty"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Active reports whether the device has not expired at now.
func (d *Device) Active(now time.Time) bool {
	return d.ExpiresAt == nil || d.ExpiresAt.After(now)
}

// SubscribedTo reports whether the device holds a local subscription.
func (d *Device) SubscribedTo(topic string) bool {
	return slices.Contains(d.Topics, topic)
}
