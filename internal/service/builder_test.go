package service

import (
	"context"
	"testing"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderValidation(t *testing.T) {
	svc := NewNotificationService(newTestStore(t))

	issues := svc.NewNotification().Validate()
	assert.Contains(t, issues, "title is required")
	assert.Contains(t, issues, "message is required for non-silent notifications")
	assert.Contains(t, issues, "a target topic, token list or recipient is required")

	// silent notifications need no message
	issues = svc.NewNotification().
		Title("wake").
		Silent().
		ToTopic("sync").
		Validate()
	assert.Empty(t, issues)

	issues = svc.NewNotification().
		Title("t").Message("m").
		ToTokens().
		Validate()
	assert.Contains(t, issues, "token target needs at least one token")

	issues = svc.NewNotification().
		Title("t").Message("m").
		ToTopic("x").
		Category("nonsense").
		Validate()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "unknown category")
}

func TestBuilderSaveIsTheOnlySideEffect(t *testing.T) {
	store := newTestStore(t)
	svc := NewNotificationService(store)
	ctx := context.Background()

	b := svc.NewNotification().
		Title("Release 1.2").
		Message("Now available").
		Category("system").
		Priority(model.PriorityHigh).
		ToRecipient("alice")

	all, err := store.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "building must not persist")

	saved, err := b.Save(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, model.StatusPending, saved.Status)
	assert.Equal(t, model.TargetRecipient, saved.Target.Kind)

	all, err = store.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, saved.ID, all[0].ID)
}

func TestBuilderSaveRejectsInvalid(t *testing.T) {
	svc := NewNotificationService(newTestStore(t))
	_, err := svc.NewNotification().Message("no title").ToTopic("x").Save(context.Background())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Issues, "title is required")
}

func TestBuilderTargetExclusivityLastWins(t *testing.T) {
	svc := NewNotificationService(newTestStore(t))
	saved, err := svc.NewNotification().
		Title("t").Message("m").
		ToTopic("news").
		ToRecipient("alice").
		Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.TargetRecipient, saved.Target.Kind)
	assert.Empty(t, saved.Target.Topic)
}
