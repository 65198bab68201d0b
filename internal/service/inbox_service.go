package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
)

// InboxService resolves which delivered notifications a recipient can see
// and tracks per-recipient read state.
type InboxService struct {
	store storage.Store
}

// NewInboxService builds InboxService.
func NewInboxService(store storage.Store) *InboxService {
	return &InboxService{store: store}
}

// QueryFor returns one page of the recipient's visible notifications,
// newest first.
func (s *InboxService) QueryFor(ctx context.Context, recipientID string, page, pageSize int) (*model.NotificationPage, error) {
	visible, err := s.visible(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(visible, func(a, b *model.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(visible)
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	pages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := min(start+pageSize, total)
	return &model.NotificationPage{
		Data:     visible[start:end],
		Total:    total,
		Pages:    pages,
		PageNum:  page,
		PageSize: pageSize,
	}, nil
}

// visible computes the union of records addressed directly to the
// recipient, to any device they own, or to any topic their devices
// subscribe to, deduplicated by record id. Only delivered records are
// exposed.
func (s *InboxService) visible(ctx context.Context, recipientID string) ([]*model.Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("recipient id is required")
	}
	devices, err := s.store.ListDevicesByOwner(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]struct{})
	topics := make(map[string]struct{})
	for _, device := range devices {
		if device.PushToken != "" {
			tokens[device.PushToken] = struct{}{}
		}
		for _, topic := range device.Topics {
			topics[topic] = struct{}{}
		}
	}

	all, err := s.store.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []*model.Notification
	for _, n := range all {
		if n.Status != model.StatusSent {
			continue
		}
		if !s.addressedTo(n, recipientID, tokens, topics) {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func (s *InboxService) addressedTo(n *model.Notification, recipientID string, tokens, topics map[string]struct{}) bool {
	switch n.Target.Kind {
	case model.TargetRecipient:
		return n.Target.Recipient == recipientID
	case model.TargetTokens:
		for _, token := range n.Target.Tokens {
			if _, ok := tokens[token]; ok {
				return true
			}
		}
	case model.TargetTopic:
		_, ok := topics[n.Target.Topic]
		return ok
	}
	return false
}

// UnreadCountFor returns how many visible notifications lack a read marker.
func (s *InboxService) UnreadCountFor(ctx context.Context, recipientID string) (int, error) {
	visible, err := s.visible(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	read, err := s.readSet(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range visible {
		if _, ok := read[n.ID]; !ok {
			count++
		}
	}
	return count, nil
}

// MarkRead records that the recipient read one notification. Marking an
// already-read record is a no-op.
func (s *InboxService) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	if _, err := s.store.GetNotification(ctx, notificationID); err != nil {
		return err
	}
	_, err := s.store.GetReadState(ctx, recipientID, notificationID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.store.PutReadState(ctx, &model.ReadState{
		RecipientID:    recipientID,
		NotificationID: notificationID,
	})
}

// MarkAllRead marks every visible unread notification read and returns how
// many were newly marked.
func (s *InboxService) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	visible, err := s.visible(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	read, err := s.readSet(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, n := range visible {
		if _, ok := read[n.ID]; ok {
			continue
		}
		if err := s.store.PutReadState(ctx, &model.ReadState{
			RecipientID:    recipientID,
			NotificationID: n.ID,
		}); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

func (s *InboxService) readSet(ctx context.Context, recipientID string) (map[string]struct{}, error) {
	states, err := s.store.ListReadStates(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(states))
	for _, state := range states {
		out[state.NotificationID] = struct{}{}
	}
	return out, nil
}
