package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
)

// NotificationService creates and administers notification records.
type NotificationService struct {
	store storage.Store
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(store storage.Store) *NotificationService {
	return &NotificationService{store: store}
}

// NewNotification starts a builder. Building is pure; nothing persists
// until Save.
func (s *NotificationService) NewNotification() *Builder {
	return &Builder{
		store: s.store,
		n: model.Notification{
			Category: model.DefaultCategory,
			Priority: model.PriorityNormal,
		},
	}
}

// Get returns one record by id.
func (s *NotificationService) Get(ctx context.Context, id string) (*model.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// Requeue resets a terminal record to pending so the next dispatch run
// picks it up again.
func (s *NotificationService) Requeue(ctx context.Context, id string) error {
	return s.store.Requeue(ctx, id)
}

// ValidationError reports why a notification was rejected before
// persistence. Rejected records are never retried.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid notification: " + strings.Join(e.Issues, "; ")
}

// Builder accumulates one notification intent fluently.
type Builder struct {
	store storage.Store
	n     model.Notification
}

// Title sets the alert title.
func (b *Builder) Title(title string) *Builder {
	b.n.Title = title
	return b
}

// Message sets the alert body.
func (b *Builder) Message(message string) *Builder {
	b.n.Message = message
	return b
}

// Data sets the free-form payload map.
func (b *Builder) Data(data map[string]any) *Builder {
	b.n.Data = data
	return b
}

// ToTopic addresses a broadcast topic. Address targets are mutually
// exclusive; the last target call wins.
func (b *Builder) ToTopic(name string) *Builder {
	b.n.Target = model.TopicTarget(name)
	return b
}

// ToTokens addresses explicit push tokens.
func (b *Builder) ToTokens(tokens ...string) *Builder {
	b.n.Target = model.TokensTarget(tokens...)
	return b
}

// ToRecipient addresses all devices owned by one recipient.
func (b *Builder) ToRecipient(id string) *Builder {
	b.n.Target = model.RecipientTarget(id)
	return b
}

// Category sets the notification category.
func (b *Builder) Category(name string) *Builder {
	b.n.Category = name
	return b
}

// Priority sets the delivery urgency.
func (b *Builder) Priority(p model.Priority) *Builder {
	b.n.Priority = p
	return b
}

// Silent marks the notification data-only: no visible alert, wake the app
// in the background instead.
func (b *Builder) Silent() *Builder {
	b.n.Silent = true
	return b
}

// Sound sets an explicit alert sound.
func (b *Builder) Sound(sound string) *Builder {
	b.n.Sound = sound
	return b
}

// Badge sets an explicit badge count. Absent means leave the badge alone.
func (b *Builder) Badge(count int) *Builder {
	b.n.Badge = &count
	return b
}

// Image attaches a rich-content image URL.
func (b *Builder) Image(url string) *Builder {
	b.n.ImageURL = url
	return b
}

// Actions attaches tappable buttons.
func (b *Builder) Actions(actions ...model.Action) *Builder {
	b.n.Actions = actions
	return b
}

// ActionURL sets the link opened when the notification is tapped.
func (b *Builder) ActionURL(url string) *Builder {
	b.n.ActionURL = url
	return b
}

// TTL bounds how long the provider may retain an undeliverable message.
func (b *Builder) TTL(seconds int) *Builder {
	b.n.TTLSeconds = seconds
	return b
}

// CollapseKey groups related notifications on the device.
func (b *Builder) CollapseKey(key string) *Builder {
	b.n.CollapseKey = key
	return b
}

// ApnsOverride deep-merges a custom block over the Apple-family shape.
func (b *Builder) ApnsOverride(block map[string]any) *Builder {
	b.n.ApnsOverride = block
	return b
}

// AndroidOverride deep-merges a custom block over the Android-family shape.
func (b *Builder) AndroidOverride(block map[string]any) *Builder {
	b.n.AndroidOverride = block
	return b
}

// ScheduleAt defers dispatch until t.
func (b *Builder) ScheduleAt(t time.Time) *Builder {
	utc := t.UTC()
	b.n.ScheduledAt = &utc
	return b
}

// Validate reports every construction problem without persisting.
func (b *Builder) Validate() []string {
	var issues []string
	if strings.TrimSpace(b.n.Title) == "" {
		issues = append(issues, "title is required")
	}
	if !b.n.Silent && strings.TrimSpace(b.n.Message) == "" {
		issues = append(issues, "message is required for non-silent notifications")
	}
	if b.n.Target.IsZero() {
		issues = append(issues, "a target topic, token list or recipient is required")
	} else if b.n.Target.Kind == model.TargetTokens && len(b.n.Target.Tokens) == 0 {
		issues = append(issues, "token target needs at least one token")
	}
	if _, ok := model.CategoryByName(b.n.Category); !ok {
		issues = append(issues, fmt.Sprintf("unknown category %q", b.n.Category))
	}
	if !b.n.Priority.Valid() {
		issues = append(issues, fmt.Sprintf("unknown priority %q", b.n.Priority))
	}
	return issues
}

// Save validates and persists the record as pending. This is the only
// step with side effects.
func (b *Builder) Save(ctx context.Context) (*model.Notification, error) {
	if issues := b.Validate(); len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	n := b.n
	n.ID = uuid.NewString()
	n.Status = model.StatusPending
	if err := b.store.InsertNotification(ctx, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
