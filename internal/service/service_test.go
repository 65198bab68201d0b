package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pushgate-labs/pushgate/internal/gateway"
	"github.com/pushgate-labs/pushgate/internal/storage"
	"github.com/pushgate-labs/pushgate/internal/storage/bolt"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := bolt.New(filepath.Join(t.TempDir(), "pushgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeGateway records provider calls and injects failures.
type fakeGateway struct {
	mu           sync.Mutex
	sent         []*gateway.Message
	multicasts   [][]string
	topicCalls   []string
	sendErr      error
	multicastErr error
	topicErr     error
	onSend       func() // invoked while a send is in flight
}

var _ gateway.Client = (*fakeGateway)(nil)

func (f *fakeGateway) Send(_ context.Context, msg *gateway.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	hook := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeGateway) SendMulticast(_ context.Context, _ *gateway.Message, tokens []string) (gateway.MulticastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.multicastErr != nil {
		return gateway.MulticastResult{}, f.multicastErr
	}
	f.multicasts = append(f.multicasts, tokens)
	return gateway.MulticastResult{Success: len(tokens)}, nil
}

func (f *fakeGateway) SubscribeToTopic(_ context.Context, topic string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicCalls = append(f.topicCalls, "subscribe:"+topic)
	return f.topicErr
}

func (f *fakeGateway) UnsubscribeFromTopic(_ context.Context, topic string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topicCalls = append(f.topicCalls, "unsubscribe:"+topic)
	return f.topicErr
}

func (f *fakeGateway) Ping(context.Context) error {
	return nil
}

func (f *fakeGateway) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeGateway) sentMessages() []*gateway.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*gateway.Message, len(f.sent))
	copy(out, f.sent)
	return out
}
