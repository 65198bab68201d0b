package gateway

import (
	"context"
	"errors"

	"github.com/pushgate-labs/pushgate/internal/payload"
)

// ErrNotConfigured indicates no push gateway credentials were provided.
var ErrNotConfigured = errors.New("push gateway not configured")

// Message is one encoded delivery handed to the provider. Exactly one of
// Topic/Token addresses it. Token sends carry the shape matching the
// device's platform; topic sends carry both and the provider fans out by
// each subscriber's registered platform.
type Message struct {
	Topic   string                  `json:"topic,omitempty"`
	Token   string                  `json:"token,omitempty"`
	Apple   *payload.AppleMessage   `json:"apple,omitempty"`
	Android *payload.AndroidMessage `json:"android,omitempty"`
}

// MulticastResult sums per-chunk outcomes of a batch send. Failure counts
// are aggregate only; the provider does not attribute them to tokens.
type MulticastResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Client is the push provider surface the delivery engine depends on.
type Client interface {
	Send(ctx context.Context, msg *Message) error
	SendMulticast(ctx context.Context, msg *Message, tokens []string) (MulticastResult, error)
	SubscribeToTopic(ctx context.Context, topic string, tokens []string) error
	UnsubscribeFromTopic(ctx context.Context, topic string, tokens []string) error
	Ping(ctx context.Context) error
}
