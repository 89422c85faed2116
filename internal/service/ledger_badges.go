package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// BadgeCatalogue lists every badge definition.
func (s *LedgerService) BadgeCatalogue() []models.BadgeDefinition {
	return Catalogue()
}

// EvaluateBadges unlocks every badge the user now qualifies for and credits their bonuses, repeating
// until no further badge qualifies. A second call with no new facts unlocks nothing.
func (s *LedgerService) EvaluateBadges(ctx context.Context, userID string) (*models.BadgeEvaluation, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	facts, err := s.facts.Facts(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load activity facts")
	}

	var result models.BadgeEvaluation
	err = s.withUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		result = models.BadgeEvaluation{UserID: userID, Unlocked: []models.BadgeDefinition{}, BonusEntries: []models.XPHistoryEntry{}}
		progression := tx.Progression()
		result.PreviousLevel = progression.Level

		badges, err := tx.Badges(ctx)
		if err != nil {
			return err
		}
		held := make(map[string]bool, len(badges))
		for _, b := range badges {
			held[b.BadgeID] = true
		}

		for {
			eligible := EligibleBadges(factsFor(facts, progression), held)
			if len(eligible) == 0 {
				break
			}
			for _, def := range eligible {
				if err := tx.InsertBadge(ctx, models.UserBadge{UserID: userID, BadgeID: def.ID, UnlockedAt: s.now()}); err != nil {
					return err
				}
				held[def.ID] = true
				result.Unlocked = append(result.Unlocked, def)
				if def.XPBonus == 0 {
					continue
				}
				bonus := badgeBonusEntry(def)
				progression, err = s.commitEntries(ctx, tx, bonus)
				if err != nil {
					return err
				}
				result.BonusEntries = append(result.BonusEntries, *bonus)
			}
		}
		result.Progression = tx.Progression()
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "failed to evaluate badges")
	}

	s.afterBadges(ctx, userID, &result, "")
	return &result, nil
}

// AwardBadge grants a badge by hand. A revoked badge is reinstated without paying its bonus again.
func (s *LedgerService) AwardBadge(ctx context.Context, userID, badgeID, actorID string) (*models.BadgeEvaluation, error) {
	def, ok := BadgeByID(badgeID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "badge not found")
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	var result models.BadgeEvaluation
	err := s.withUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		result = models.BadgeEvaluation{UserID: userID, Unlocked: []models.BadgeDefinition{}, BonusEntries: []models.XPHistoryEntry{}}
		result.PreviousLevel = tx.Progression().Level
		badges, err := tx.Badges(ctx)
		if err != nil {
			return err
		}
		for _, b := range badges {
			if b.BadgeID != badgeID {
				continue
			}
			if b.Active() {
				result.Progression = tx.Progression()
				return nil
			}
			if err := tx.ReinstateBadge(ctx, badgeID); err != nil {
				return err
			}
			result.Unlocked = append(result.Unlocked, def)
			result.Progression = tx.Progression()
			return nil
		}

		if err := tx.InsertBadge(ctx, models.UserBadge{UserID: userID, BadgeID: def.ID, UnlockedAt: s.now()}); err != nil {
			return err
		}
		result.Unlocked = append(result.Unlocked, def)
		if def.XPBonus != 0 {
			bonus := badgeBonusEntry(def)
			bonus.ActorID = &actorID
			if _, err := s.commitEntries(ctx, tx, bonus); err != nil {
				return err
			}
			result.BonusEntries = append(result.BonusEntries, *bonus)
		}
		result.Progression = tx.Progression()
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "failed to award badge")
	}

	s.afterBadges(ctx, userID, &result, actorID)
	return &result, nil
}

// RevokeBadge removes a badge from the user's active set. The unlock stays on record so the badge is
// not unlocked again automatically; bonus XP already credited is left in the History Log.
func (s *LedgerService) RevokeBadge(ctx context.Context, userID, badgeID, actorID string) error {
	if _, ok := BadgeByID(badgeID); !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "badge not found")
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	revokedAt := s.now()
	err := s.withUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		return tx.RevokeBadge(ctx, badgeID, revokedAt, actorID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user does not hold this badge")
		}
		return s.storeError(err, "failed to revoke badge")
	}

	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventBadgeRevoked,
		UserID:     userID,
		OccurredAt: revokedAt,
		BadgeID:    badgeID,
		ActorID:    actorID,
	})
	s.logger.Info("badge revoked", zap.String("user_id", userID), zap.String("badge_id", badgeID), zap.String("actor_id", actorID))
	return nil
}

func (s *LedgerService) afterBadges(ctx context.Context, userID string, result *models.BadgeEvaluation, actorID string) {
	if len(result.Unlocked) == 0 {
		return
	}
	events := make([]models.LedgerEvent, 0, len(result.Unlocked))
	for _, def := range result.Unlocked {
		s.metrics.RecordBadgeUnlock(def.ID)
		events = append(events, models.LedgerEvent{
			Type:       models.EventBadgeUnlocked,
			UserID:     userID,
			OccurredAt: s.now(),
			BadgeID:    def.ID,
			ActorID:    actorID,
		})
	}
	s.publish(ctx, events...)
	if len(result.BonusEntries) > 0 {
		s.afterCredit(ctx, userID, result.PreviousLevel, result.Progression, result.BonusEntries)
	}
	s.logger.Info("badges unlocked", zap.String("user_id", userID), zap.Int("count", len(result.Unlocked)))
}

// badgeBonusEntry builds the bonus credit. The key makes the bonus payable once per user and badge.
func badgeBonusEntry(def models.BadgeDefinition) *models.XPHistoryEntry {
	key := "badge-bonus:" + def.ID
	note := def.Name
	return &models.XPHistoryEntry{
		Amount:         def.XPBonus,
		Reason:         models.XPReasonBadgeBonus,
		IdempotencyKey: &key,
		Note:           &note,
	}
}
