package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// GrantXP appends a system or administrative credit. Requests and badge bonuses have their own
// paths and are rejected here. A repeated idempotency key returns the original entry unchanged.
func (s *LedgerService) GrantXP(ctx context.Context, userID string, req dto.GrantXPRequest, actorID *string) (*models.CreditResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if !req.Reason.Valid() || !req.Reason.Grantable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("reason %q cannot be granted directly", req.Reason))
	}
	if req.Amount == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "xp amount must be non-zero")
	}
	if req.Amount < 0 && req.Reason != models.XPReasonManualAdjustment {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "only manual adjustments may be negative")
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	var (
		result        models.CreditResult
		previousLevel int
	)
	err := s.withUserTx(ctx, userID, func(tx repository.LedgerTx) error {
		result = models.CreditResult{}
		before := tx.Progression()
		previousLevel = before.Level

		if req.IdempotencyKey != "" {
			existing, err := tx.FindEntryByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result = models.CreditResult{Entry: *existing, Progression: before, Replayed: true}
				return nil
			}
		}
		if before.TotalXP+req.Amount < 0 {
			return appErrors.Clone(appErrors.ErrInvalidAmount, "correction exceeds the current balance")
		}

		entry := &models.XPHistoryEntry{
			Amount:         req.Amount,
			Reason:         req.Reason,
			ActorID:        actorID,
			IdempotencyKey: optionalString(req.IdempotencyKey),
			Note:           optionalString(req.Note),
		}
		progression, err := s.commitEntries(ctx, tx, entry)
		if err != nil {
			return err
		}
		result = models.CreditResult{Entry: *entry, Progression: progression}
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "failed to grant xp")
	}
	if result.Replayed {
		return &result, nil
	}

	s.afterCredit(ctx, userID, previousLevel, result.Progression, []models.XPHistoryEntry{result.Entry})
	s.logger.Info("xp granted",
		zap.String("user_id", userID),
		zap.Int64("amount", result.Entry.Amount),
		zap.String("reason", string(result.Entry.Reason)),
		zap.String("entry_id", result.Entry.ID),
	)
	s.evaluateAfterCredit(ctx, userID)
	return &result, nil
}

// DailyLogin credits the daily login bonus at most once per UTC day.
func (s *LedgerService) DailyLogin(ctx context.Context, userID string) (*models.CreditResult, error) {
	day := s.now().Format("2006-01-02")
	return s.GrantXP(ctx, userID, dto.GrantXPRequest{
		Amount:         s.cfg.DailyLoginXP,
		Reason:         models.XPReasonDailyLogin,
		IdempotencyKey: "daily-login:" + day,
	}, &userID)
}

// ProjectionOf returns the user's projection with its active badges and level progress.
func (s *LedgerService) ProjectionOf(ctx context.Context, userID string) (*models.ProgressionView, error) {
	progression, err := s.store.GetProgression(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load progression")
	}
	if progression == nil {
		if err := s.ensureUser(ctx, userID); err != nil {
			return nil, err
		}
		progression = &models.UserProgression{UserID: userID, Level: LevelOf(0)}
	}
	badges, err := s.store.ListBadges(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load badges")
	}
	progression.Badges = activeBadgeIDs(badges)
	return &models.ProgressionView{UserProgression: *progression, Progress: Progress(progression.TotalXP)}, nil
}

// History returns the user's History Log in replay order.
func (s *LedgerService) History(ctx context.Context, userID string) ([]models.XPHistoryEntry, error) {
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load history")
	}
	if len(entries) == 0 {
		if err := s.ensureUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	if entries == nil {
		entries = []models.XPHistoryEntry{}
	}
	return entries, nil
}

// isDuplicate reports a unique-key violation from the store.
func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicateKey)
}
