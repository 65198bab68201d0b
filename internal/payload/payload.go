// Package payload translates notification records into the two
// platform-family wire shapes the push provider understands.
package payload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
)

// AppleMessage is the Apple-family shape: request headers plus the JSON
// body carrying the aps dictionary and custom data keys.
type AppleMessage struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body"`
}

// AndroidMessage is the Android-family shape. Body carries the standard
// message keys: "notification" (omitted for silent sends), "data" and
// "android" (priority, ttl, collapse_key).
type AndroidMessage struct {
	Body map[string]any `json:"body"`
}

// Encode builds both platform shapes for one notification. Both are always
// computed; the dispatcher picks the one matching each target's platform.
// now anchors TTL expiry computation.
func Encode(n *model.Notification, now time.Time) (*AppleMessage, *AndroidMessage, error) {
	if n == nil {
		return nil, nil, fmt.Errorf("notification is nil")
	}
	if n.Target.IsZero() {
		return nil, nil, fmt.Errorf("notification %s has no target", n.ID)
	}
	data := encodeData(n)
	apple := encodeApple(n, data, now)
	android := encodeAndroid(n, data)
	if len(n.ApnsOverride) > 0 {
		deepMerge(apple.Body, n.ApnsOverride)
	}
	if len(n.AndroidOverride) > 0 {
		deepMerge(android.Body, n.AndroidOverride)
	}
	return apple, android, nil
}

func encodeApple(n *model.Notification, data map[string]string, now time.Time) *AppleMessage {
	aps := map[string]any{}
	if n.Silent {
		aps["content-available"] = 1
	} else {
		aps["alert"] = map[string]any{
			"title": n.Title,
			"body":  n.Message,
		}
		aps["sound"] = resolveSound(n)
		if n.Badge != nil {
			aps["badge"] = *n.Badge
		}
		if n.ImageURL != "" || len(n.Actions) > 0 {
			aps["mutable-content"] = 1
		}
		if len(n.Actions) > 0 {
			aps["category"] = n.Category
		}
	}
	if n.CollapseKey != "" {
		aps["thread-id"] = n.CollapseKey
	}

	body := map[string]any{"aps": aps}
	for k, v := range data {
		body[k] = v
	}

	headers := map[string]string{
		"apns-priority": appleUrgency(n.Priority),
	}
	if n.TTLSeconds > 0 {
		expiry := now.Add(time.Duration(n.TTLSeconds) * time.Second)
		headers["apns-expiration"] = strconv.FormatInt(expiry.Unix(), 10)
	}
	return &AppleMessage{Headers: headers, Body: body}
}

func encodeAndroid(n *model.Notification, data map[string]string) *AndroidMessage {
	options := map[string]any{
		"priority": deliveryClass(n.Priority),
	}
	if n.TTLSeconds > 0 {
		options["ttl"] = fmt.Sprintf("%ds", n.TTLSeconds)
	}
	if n.CollapseKey != "" {
		options["collapse_key"] = n.CollapseKey
	}

	// data goes in as map[string]any so override blocks can deep-merge
	// into it instead of replacing the injected id/category keys
	payloadData := make(map[string]any, len(data))
	for k, v := range data {
		payloadData[k] = v
	}
	body := map[string]any{
		"data":    payloadData,
		"android": options,
	}
	if !n.Silent {
		notif := map[string]any{
			"title": n.Title,
			"body":  n.Message,
			"sound": resolveSound(n),
		}
		if n.ImageURL != "" {
			notif["image"] = n.ImageURL
		}
		if len(n.Actions) > 0 {
			notif["click_action"] = n.Category
		}
		body["notification"] = notif
	}
	return &AndroidMessage{Body: body}
}

// encodeData flattens the record data to the string-only map the provider
// accepts. Empty values are dropped; the record id and category are always
// present.
func encodeData(n *model.Notification) map[string]string {
	out := make(map[string]string, len(n.Data)+3)
	for k, v := range n.Data {
		s, ok := stringify(v)
		if !ok || s == "" {
			continue
		}
		out[k] = s
	}
	out["notification_id"] = n.ID
	out["category"] = n.Category
	if n.ActionURL != "" {
		out["action_url"] = n.ActionURL
	}
	return out
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// resolveSound picks the explicit per-record sound, else the category
// default, else the platform default.
func resolveSound(n *model.Notification) string {
	if n.Sound != "" {
		return n.Sound
	}
	if cat, ok := model.CategoryByName(n.Category); ok && cat.DefaultSound != "" {
		return cat.DefaultSound
	}
	return "default"
}

// appleUrgency maps priority to the Apple numeric urgency header.
func appleUrgency(p model.Priority) string {
	if p == model.PriorityLow {
		return "5"
	}
	return "10"
}

// deliveryClass maps priority to the provider's delivery class.
func deliveryClass(p model.Priority) string {
	if p == model.PriorityHigh || p == model.PriorityCritical {
		return "high"
	}
	return "normal"
}

// deepMerge overlays src onto dst, recursing into nested maps so override
// blocks can force single fields without clobbering siblings.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if next, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				deepMerge(cur, next)
				continue
			}
		}
		dst[k] = v
	}
}
