package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

func badgeIDs(defs []models.BadgeDefinition) []string {
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	return ids
}

func TestCatalogueIsACopy(t *testing.T) {
	defs := Catalogue()
	require.Len(t, defs, 6)
	defs[0].Threshold[models.FactLevel] = 99
	defs[1].XPBonus = 0

	def, ok := BadgeByID("rookie")
	require.True(t, ok)
	assert.Equal(t, int64(2), def.Threshold[models.FactLevel])
	def, ok = BadgeByID("xp-1000")
	require.True(t, ok)
	assert.Equal(t, int64(50), def.XPBonus)

	_, ok = BadgeByID("unknown")
	assert.False(t, ok)
}

func TestEligibleBadgesSkipsHeld(t *testing.T) {
	facts := models.ActivityFacts{models.FactLevel: 3, models.FactHelpGiven: 6}
	assert.Equal(t, []string{"rookie", "helper-5"}, badgeIDs(EligibleBadges(facts, nil)))
	assert.Equal(t, []string{"helper-5"}, badgeIDs(EligibleBadges(facts, map[string]bool{"rookie": true})))
	assert.False(t, Qualifies(models.BadgeDefinition{ID: "empty"}, facts))
}

func TestEvaluateBadgesCascadesBonuses(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, "u1", 950)
	f.store.SetFacts("u1", models.ActivityFacts{models.FactTasksCompleted: 10})

	result, err := f.svc.EvaluateBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-10", "xp-1000"}, badgeIDs(result.Unlocked))
	require.Len(t, result.BonusEntries, 2)
	assert.Equal(t, int64(1100), result.Progression.TotalXP)
	for _, entry := range result.BonusEntries {
		assert.Equal(t, models.XPReasonBadgeBonus, entry.Reason)
		require.NotNil(t, entry.IdempotencyKey)
	}

	again, err := f.svc.EvaluateBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.Unlocked)
	assert.Empty(t, again.BonusEntries)

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), view.TotalXP)
	assert.Equal(t, []string{"rookie", "task-10", "xp-1000"}, view.Badges)
	f.assertConsistent(t, "u1")
}

func TestRevokedBadgeIsNotUnlockedAgain(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.grant(t, "u1", 1000)

	view, err := f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, view.Badges, "xp-1000")
	assert.Equal(t, int64(1050), view.TotalXP)

	require.NoError(t, f.svc.RevokeBadge(ctx, "u1", "xp-1000", "rev"))
	require.Len(t, f.events.ofType(models.EventBadgeRevoked), 1)

	result, err := f.svc.EvaluateBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, result.Unlocked)

	view, err = f.svc.ProjectionOf(ctx, "u1")
	require.NoError(t, err)
	assert.NotContains(t, view.Badges, "xp-1000")
	assert.Equal(t, int64(1050), view.TotalXP)

	err = f.svc.RevokeBadge(ctx, "u1", "xp-1000", "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	err = f.svc.RevokeBadge(ctx, "u1", "no-such-badge", "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRevokeBadgeForUnknownUser(t *testing.T) {
	f := newLedgerFixture(t)

	err := f.svc.RevokeBadge(context.Background(), "ghost", "rookie", "rev")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.events.ofType(models.EventBadgeRevoked))
}

func TestAwardBadge(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	result, err := f.svc.AwardBadge(ctx, "u2", "helper-5", "rev")
	require.NoError(t, err)
	assert.Equal(t, []string{"helper-5"}, badgeIDs(result.Unlocked))
	require.Len(t, result.BonusEntries, 1)
	require.NotNil(t, result.BonusEntries[0].ActorID)
	assert.Equal(t, "rev", *result.BonusEntries[0].ActorID)
	assert.Equal(t, int64(25), result.Progression.TotalXP)

	repeat, err := f.svc.AwardBadge(ctx, "u2", "helper-5", "rev")
	require.NoError(t, err)
	assert.Empty(t, repeat.Unlocked)

	require.NoError(t, f.svc.RevokeBadge(ctx, "u2", "helper-5", "rev"))
	reinstated, err := f.svc.AwardBadge(ctx, "u2", "helper-5", "rev")
	require.NoError(t, err)
	assert.Equal(t, []string{"helper-5"}, badgeIDs(reinstated.Unlocked))
	assert.Empty(t, reinstated.BonusEntries)

	view, err := f.svc.ProjectionOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(25), view.TotalXP)
	assert.Equal(t, []string{"helper-5"}, view.Badges)

	_, err = f.svc.AwardBadge(ctx, "u2", "unknown", "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.svc.AwardBadge(ctx, "ghost", "helper-5", "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	f.assertConsistent(t, "u2")
}
