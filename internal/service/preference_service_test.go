package service

import (
	"context"
	"testing"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForRecipientCreatesDefaults(t *testing.T) {
	store := newTestStore(t)
	svc := NewPreferenceService(store)
	ctx := context.Background()

	pref, err := svc.ForRecipient(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, pref.Enabled)
	assert.False(t, pref.QuietHoursEnabled)
	assert.True(t, pref.CategoryEnabled("promo"), "all categories default to enabled")

	again, err := svc.ForRecipient(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pref.CreatedAt, again.CreatedAt, "second access returns the stored record")
}

func quietPreference() *model.Preference {
	pref := model.DefaultPreference("bob")
	pref.QuietHoursEnabled = true
	pref.QuietStart = "22:00"
	pref.QuietEnd = "08:00"
	pref.Timezone = "UTC"
	return pref
}

func TestShouldDeliverQuietHours(t *testing.T) {
	svc := NewPreferenceService(newTestStore(t))
	pref := quietPreference()

	at2300 := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	at0900 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	at0300 := time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC)

	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityNormal, at2300))
	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityNormal, at0300), "window wraps midnight")
	assert.True(t, svc.ShouldDeliver(pref, "promo", model.PriorityNormal, at0900))

	// critical pierces quiet hours only when allowed
	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityCritical, at2300))
	pref.AllowCriticalDuringQuiet = true
	assert.True(t, svc.ShouldDeliver(pref, "promo", model.PriorityCritical, at2300))
	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityHigh, at2300), "only critical pierces")
}

func TestShouldDeliverQuietHoursTimezone(t *testing.T) {
	svc := NewPreferenceService(newTestStore(t))
	pref := quietPreference()
	pref.Timezone = "America/New_York"

	// 03:00 UTC is 22:00 or 23:00 in New York, inside the window either way
	at := time.Date(2026, 1, 6, 3, 30, 0, 0, time.UTC)
	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityNormal, at))
}

func TestShouldDeliverGates(t *testing.T) {
	svc := NewPreferenceService(newTestStore(t))
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	pref := model.DefaultPreference("bob")
	pref.Enabled = false
	assert.False(t, svc.ShouldDeliver(pref, "social", model.PriorityHigh, now))

	pref = model.DefaultPreference("bob")
	pref.Categories = map[string]bool{"promo": false}
	assert.False(t, svc.ShouldDeliver(pref, "promo", model.PriorityNormal, now))
	assert.True(t, svc.ShouldDeliver(pref, "social", model.PriorityNormal, now))

	// non-disableable categories always deliver
	pref.Categories["security"] = false
	assert.True(t, svc.ShouldDeliver(pref, "security", model.PriorityNormal, now))

	pref = model.DefaultPreference("bob")
	pref.DoNotDisturb = true
	assert.False(t, svc.ShouldDeliver(pref, "social", model.PriorityNormal, now))
	pref.AllowCriticalDuringQuiet = true
	assert.True(t, svc.ShouldDeliver(pref, "social", model.PriorityCritical, now))
}

func TestUpdateKeepsNonDisableableOn(t *testing.T) {
	store := newTestStore(t)
	svc := NewPreferenceService(store)
	ctx := context.Background()

	pref := model.DefaultPreference("carol")
	pref.Categories = map[string]bool{"system": false, "promo": false}
	updated, err := svc.Update(ctx, pref)
	require.NoError(t, err)
	assert.True(t, updated.CategoryEnabled("system"), "system cannot be muted")
	assert.False(t, updated.CategoryEnabled("promo"))
}

func TestUpdateValidatesQuietHours(t *testing.T) {
	svc := NewPreferenceService(newTestStore(t))
	ctx := context.Background()

	pref := model.DefaultPreference("carol")
	pref.QuietHoursEnabled = true
	pref.QuietStart = "25:00"
	_, err := svc.Update(ctx, pref)
	assert.Error(t, err)

	pref.QuietStart = "22:00"
	pref.Timezone = "Mars/Olympus"
	_, err = svc.Update(ctx, pref)
	assert.Error(t, err)
}
