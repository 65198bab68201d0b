package model

// Category describes one notification class with its delivery defaults.
// Non-disableable categories cannot be muted by recipient preferences.
type Category struct {
	Name         string `json:"name"`
	DefaultSound string `json:"defaultSound"`
	Disableable  bool   `json:"disableable"`
}

// DefaultCategory is applied when a caller does not pick one.
const DefaultCategory = "system"

var categories = []Category{
	{Name: "system", DefaultSound: "default", Disableable: false},
	{Name: "security", DefaultSound: "alarm.caf", Disableable: false},
	{Name: "social", DefaultSound: "default", Disableable: true},
	{Name: "reminder", DefaultSound: "chime.caf", Disableable: true},
	{Name: "promo", DefaultSound: "", Disableable: true},
}

// Categories returns the category catalog.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryByName looks up a catalog entry.
func CategoryByName(name string) (Category, bool) {
	for _, c := range categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}
