package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
)

// PreferenceService manages per-recipient delivery rules.
type PreferenceService struct {
	store storage.Store
}

// NewPreferenceService builds PreferenceService.
func NewPreferenceService(store storage.Store) *PreferenceService {
	return &PreferenceService{store: store}
}

// ForRecipient returns the recipient's preference, creating it with
// defaults on first access.
func (s *PreferenceService) ForRecipient(ctx context.Context, recipientID string) (*model.Preference, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("recipient id is required")
	}
	pref, err := s.store.GetPreference(ctx, recipientID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	pref = model.DefaultPreference(recipientID)
	if err := s.store.PutPreference(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

// Update validates and persists a recipient's preference. Categories the
// catalog marks non-disableable cannot be turned off.
func (s *PreferenceService) Update(ctx context.Context, pref *model.Preference) (*model.Preference, error) {
	if pref == nil || strings.TrimSpace(pref.RecipientID) == "" {
		return nil, fmt.Errorf("recipient id is required")
	}
	if pref.QuietHoursEnabled {
		if _, err := parseClock(pref.QuietStart); err != nil {
			return nil, fmt.Errorf("quiet start: %w", err)
		}
		if _, err := parseClock(pref.QuietEnd); err != nil {
			return nil, fmt.Errorf("quiet end: %w", err)
		}
		if _, err := time.LoadLocation(pref.Timezone); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", pref.Timezone, err)
		}
	}
	for name, enabled := range pref.Categories {
		cat, ok := model.CategoryByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", name)
		}
		if !enabled && !cat.Disableable {
			delete(pref.Categories, name)
		}
	}
	existing, err := s.store.GetPreference(ctx, pref.RecipientID)
	if err == nil {
		pref.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err := s.store.PutPreference(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

// ShouldDeliver decides whether a notification of the given category and
// priority may be delivered to the recipient at now. Non-disableable
// categories are always deliverable; critical priority pierces quiet hours
// and do-not-disturb only when the recipient allows it.
func (s *PreferenceService) ShouldDeliver(pref *model.Preference, category string, priority model.Priority, now time.Time) bool {
	if pref == nil {
		return true
	}
	if !pref.Enabled {
		return false
	}
	if cat, ok := model.CategoryByName(category); ok && !cat.Disableable {
		return true
	}
	if !pref.CategoryEnabled(category) {
		return false
	}
	criticalOverride := priority == model.PriorityCritical && pref.AllowCriticalDuringQuiet
	if pref.DoNotDisturb {
		return criticalOverride
	}
	if pref.QuietHoursEnabled && inQuietWindow(pref, now) {
		return criticalOverride
	}
	return true
}

// inQuietWindow checks whether now falls inside the recipient's local
// quiet-hours window. A start later than the end means the window wraps
// midnight.
func inQuietWindow(pref *model.Preference, now time.Time) bool {
	start, err := parseClock(pref.QuietStart)
	if err != nil {
		return false
	}
	end, err := parseClock(pref.QuietEnd)
	if err != nil {
		return false
	}
	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// parseClock parses "HH:MM" into minutes of day.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}
