package model

import "time"

// Preference holds one recipient's delivery rules. Records are created
// lazily with defaults on first access.
type Preference struct {
	RecipientID string `json:"recipientId"`

	Enabled      bool `json:"enabled"`
	DoNotDisturb bool `json:"doNotDisturb"`

	QuietHoursEnabled        bool   `json:"quietHoursEnabled"`
	QuietStart               string `json:"quietStart"` // "HH:MM" local time
	QuietEnd                 string `json:"quietEnd"`
	Timezone                 string `json:"timezone"`
	AllowCriticalDuringQuiet bool   `json:"allowCriticalDuringQuiet"`

	// Categories maps category name to enabled. An absent key means enabled.
	Categories map[string]bool `json:"categories,omitempty"`

	Sound     bool `json:"sound"`
	Vibration bool `json:"vibration"`
	Badge     bool `json:"badge"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultPreference returns the documented defaults: everything enabled,
// quiet hours off.
func DefaultPreference(recipientID string) *Preference {
	return &Preference{
		RecipientID: recipientID,
		Enabled:     true,
		QuietStart:  "22:00",
		QuietEnd:    "08:00",
		Timezone:    "UTC",
		Sound:       true,
		Vibration:   true,
		Badge:       true,
	}
}

// CategoryEnabled reports whether the recipient left a category on.
func (p *Preference) CategoryEnabled(name string) bool {
	enabled, ok := p.Categories[name]
	return !ok || enabled
}
