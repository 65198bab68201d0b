package model

import "time"

// ReadState records that a recipient has read one notification.
type ReadState struct {
	RecipientID    string    `json:"recipientId"`
	NotificationID string    `json:"notificationId"`
	ReadAt         time.Time `json:"readAt"`
}
