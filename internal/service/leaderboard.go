package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

const (
	leaderboardNamespace    = "leaderboard"
	defaultLeaderboardLimit = 10
)

func leaderboardCacheKey(generation int64, limit, offset int) string {
	return fmt.Sprintf("%s:%d:%d:%d", leaderboardNamespace, generation, limit, offset)
}

func leaderboardGenerationPattern(generation int64) string {
	return fmt.Sprintf("%s:%d:*", leaderboardNamespace, generation)
}

// leaderboardGeneration reads the page generation before the store is queried, so a page computed
// from a snapshot older than a committed credit is written under a retired key. ok is false when
// the page must not be cached.
func (s *LedgerService) leaderboardGeneration(ctx context.Context) (int64, bool) {
	if !s.cache.Enabled() {
		return 0, false
	}
	generation, err := s.cache.Generation(ctx, leaderboardNamespace)
	if err != nil {
		s.logger.Debug("leaderboard cache bypassed", zap.Error(err))
		return 0, false
	}
	return generation, true
}

// retireLeaderboardPages bumps the page generation after a committed credit and drops the pages of
// the generation it replaced.
func (s *LedgerService) retireLeaderboardPages(ctx context.Context, userID string) {
	if !s.cache.Enabled() {
		return
	}
	generation, err := s.cache.BumpGeneration(ctx, leaderboardNamespace)
	if err != nil {
		if err := s.cache.Invalidate(ctx, leaderboardNamespace+":*"); err != nil {
			s.logger.Warn("leaderboard cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	if err := s.cache.Invalidate(ctx, leaderboardGenerationPattern(generation-1)); err != nil {
		s.logger.Debug("retired leaderboard pages not deleted", zap.Int64("generation", generation-1), zap.Error(err))
	}
}

// Top returns a page of the ranking computed from the projections. The boolean reports a cache hit.
func (s *LedgerService) Top(ctx context.Context, query dto.LeaderboardQuery) (*models.LeaderboardPage, bool, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > s.cfg.LeaderboardMaxLimit {
		limit = s.cfg.LeaderboardMaxLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	generation, cacheable := s.leaderboardGeneration(ctx)
	key := leaderboardCacheKey(generation, limit, offset)
	if cacheable {
		var cached models.LeaderboardPage
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	entries, err := s.store.TopProgressions(ctx, models.LeaderboardScope{Limit: limit, Offset: offset})
	if err != nil {
		return nil, false, s.storeError(err, "failed to load leaderboard")
	}
	total, err := s.store.CountProgressions(ctx)
	if err != nil {
		return nil, false, s.storeError(err, "failed to count leaderboard")
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	for i := range entries {
		entries[i].Rank = offset + i + 1
	}
	page := &models.LeaderboardPage{Entries: entries, Total: total}

	if cacheable {
		if err := s.cache.Set(ctx, key, page, s.cfg.LeaderboardCacheTTL); err != nil {
			s.logger.Debug("leaderboard cache write skipped", zap.Error(err))
		}
	}
	return page, false, nil
}

// RankOf returns the user's leaderboard row including their 1-based rank.
func (s *LedgerService) RankOf(ctx context.Context, userID string) (*models.LeaderboardEntry, error) {
	progression, err := s.store.GetProgression(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to load progression")
	}
	if progression == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user is not ranked")
	}
	rank, ok, err := s.store.RankOf(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, "failed to compute rank")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user is not ranked")
	}
	return &models.LeaderboardEntry{
		Rank:          rank,
		UserID:        progression.UserID,
		TotalXP:       progression.TotalXP,
		Level:         progression.Level,
		LastUpdatedAt: progression.LastUpdatedAt,
	}, nil
}
