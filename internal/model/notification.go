package model

import "time"

// Priority orders delivery urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p names a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Priorities lists the supported priorities in ascending urgency.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
}

// Status tracks a notification through its lifecycle. A record is created
// pending and transitions exactly once to sent or failed.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// TargetKind discriminates the address variants of a notification.
type TargetKind string

const (
	TargetTopic     TargetKind = "topic"
	TargetTokens    TargetKind = "tokens"
	TargetRecipient TargetKind = "recipient"
)

// Target is the tagged address of a notification: a broadcast topic, an
// explicit push-token list, or a recipient whose devices are resolved at
// dispatch time. Construct via TopicTarget, TokensTarget or RecipientTarget
// so exactly one variant is ever populated.
type Target struct {
	Kind      TargetKind `json:"kind"`
	Topic     string     `json:"topic,omitempty"`
	Tokens    []string   `json:"tokens,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
}

// TopicTarget addresses every device subscribed to a topic.
func TopicTarget(name string) Target {
	return Target{Kind: TargetTopic, Topic: name}
}

// TokensTarget addresses an explicit set of push tokens.
func TokensTarget(tokens ...string) Target {
	return Target{Kind: TargetTokens, Tokens: tokens}
}

// RecipientTarget addresses all devices owned by one recipient.
func RecipientTarget(id string) Target {
	return Target{Kind: TargetRecipient, Recipient: id}
}

// IsZero reports whether no target was set.
func (t Target) IsZero() bool {
	return t.Kind == ""
}

// Action is one tappable button attached to a notification.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Notification is the durable unit of delivery work: one intent plus its
// dispatch outcome.
type Notification struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"` // creation order, assigned by the store

	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Target   Target         `json:"target"`
	Category string         `json:"category"`
	Priority Priority       `json:"priority"`
	Silent   bool           `json:"silent"`

	Sound     string   `json:"sound,omitempty"`
	Badge     *int     `json:"badge,omitempty"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	Actions   []Action `json:"actions,omitempty"`
	ActionURL string   `json:"actionUrl,omitempty"`

	TTLSeconds  int    `json:"ttlSeconds,omitempty"`
	CollapseKey string `json:"collapseKey,omitempty"`

	ApnsOverride    map[string]any `json:"apnsOverride,omitempty"`
	AndroidOverride map[string]any `json:"androidOverride,omitempty"`

	Status      Status     `json:"status"`
	Suppressed  bool       `json:"suppressed,omitempty"` // sent without delivery by recipient preference
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Due reports whether the record is ready for dispatch at now.
func (n *Notification) Due(now time.Time) bool {
	if n.Status != StatusPending {
		return false
	}
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}
