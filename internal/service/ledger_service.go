package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/repository"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

// LedgerStore is the Document Store collaborator: per-user atomic writes plus snapshot reads.
type LedgerStore interface {
	WithinUserTx(ctx context.Context, userID string, fn func(repository.LedgerTx) error) error
	ListEntries(ctx context.Context, userID string) ([]models.XPHistoryEntry, error)
	ListEntriesByRequest(ctx context.Context, requestID string) ([]models.XPHistoryEntry, error)
	GetProgression(ctx context.Context, userID string) (*models.UserProgression, error)
	ListBadges(ctx context.Context, userID string) ([]models.UserBadge, error)
	TopProgressions(ctx context.Context, scope models.LeaderboardScope) ([]models.LeaderboardEntry, error)
	CountProgressions(ctx context.Context) (int, error)
	RankOf(ctx context.Context, userID string) (int, bool, error)
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// RequestStore persists XP requests outside the per-user transaction.
type RequestStore interface {
	Create(ctx context.Context, request *models.XPRequest) error
	GetByID(ctx context.Context, id string) (*models.XPRequest, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.XPRequest, error)
	List(ctx context.Context, filter models.XPRequestFilter) ([]models.XPRequest, error)
	Count(ctx context.Context, filter models.XPRequestFilter) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.XPRequest, error)
}

// UserDirectory is the identity collaborator's view used by the ledger.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	CanValidateXP(ctx context.Context, reviewerID string) (bool, error)
}

// FactsProvider supplies activity counters for badge conditions.
type FactsProvider interface {
	Facts(ctx context.Context, userID string) (models.ActivityFacts, error)
}

type eventSink interface {
	Publish(ctx context.Context, events ...models.LedgerEvent)
}

// LedgerConfig tunes the façade.
type LedgerConfig struct {
	MaxRequestXP        int64
	ConflictRetries     int
	ConflictBackoff     time.Duration
	DailyLoginXP        int64
	LeaderboardMaxLimit int
	LeaderboardCacheTTL time.Duration
}

// LedgerServiceParams groups the façade's collaborators.
type LedgerServiceParams struct {
	Store     LedgerStore
	Requests  RequestStore
	Users     UserDirectory
	Facts     FactsProvider
	Events    eventSink
	Cache     *CacheService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    LedgerConfig
	Clock     func() time.Time
}

// LedgerService is the only entry point to the ledger. Every XP-affecting mutation goes through
// commitEntries inside a per-user transaction.
type LedgerService struct {
	store     LedgerStore
	requests  RequestStore
	users     UserDirectory
	facts     FactsProvider
	events    eventSink
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LedgerConfig
	clock     func() time.Time
}

// NewLedgerService wires the façade, applying defaults for optional collaborators.
func NewLedgerService(p LedgerServiceParams) *LedgerService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Facts == nil {
		p.Facts = noFacts{}
	}
	if p.Config.MaxRequestXP <= 0 {
		p.Config.MaxRequestXP = 10000
	}
	if p.Config.ConflictRetries < 0 {
		p.Config.ConflictRetries = 0
	}
	if p.Config.ConflictBackoff <= 0 {
		p.Config.ConflictBackoff = 25 * time.Millisecond
	}
	if p.Config.DailyLoginXP <= 0 {
		p.Config.DailyLoginXP = 10
	}
	if p.Config.LeaderboardMaxLimit <= 0 {
		p.Config.LeaderboardMaxLimit = 100
	}
	return &LedgerService{
		store:     p.Store,
		requests:  p.Requests,
		users:     p.Users,
		facts:     p.Facts,
		events:    p.Events,
		cache:     p.Cache,
		metrics:   p.Metrics,
		validator: p.Validator,
		logger:    p.Logger,
		cfg:       p.Config,
		clock:     p.Clock,
	}
}

type noFacts struct{}

func (noFacts) Facts(context.Context, string) (models.ActivityFacts, error) {
	return models.ActivityFacts{}, nil
}

// now returns the store-precision wall clock so values read back compare equal to values written.
func (s *LedgerService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// withUserTx runs fn in a per-user transaction, retrying a bounded number of times on conflict.
// fn must be safe to run more than once.
func (s *LedgerService) withUserTx(ctx context.Context, userID string, fn func(repository.LedgerTx) error) error {
	attempts := s.cfg.ConflictRetries + 1
	for attempt := 1; ; attempt++ {
		err := s.store.WithinUserTx(ctx, userID, fn)
		if err == nil || !errors.Is(err, repository.ErrStoreConflict) || attempt >= attempts {
			return err
		}
		s.metrics.RecordStoreConflict()
		s.logger.Debug("ledger transaction conflict, retrying", zap.String("user_id", userID), zap.Int("attempt", attempt))
		timer := time.NewTimer(s.cfg.ConflictBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// commitEntries appends entries to the History Log and folds them into the locked projection.
// recordedAt never moves backwards for a user.
func (s *LedgerService) commitEntries(ctx context.Context, tx repository.LedgerTx, entries ...*models.XPHistoryEntry) (models.UserProgression, error) {
	progression := tx.Progression()
	recordedAt := s.now()
	if progression.LastUpdatedAt.After(recordedAt) {
		recordedAt = progression.LastUpdatedAt
	}
	for _, entry := range entries {
		entry.RecordedAt = recordedAt
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return models.UserProgression{}, err
		}
		progression.TotalXP += entry.Amount
	}
	progression.Level = LevelOf(progression.TotalXP)
	progression.LastUpdatedAt = recordedAt
	if err := tx.SaveProgression(ctx, &progression); err != nil {
		return models.UserProgression{}, err
	}
	return progression, nil
}

// afterCredit runs the post-commit side effects of appended entries. None of them can fail the
// mutation that produced them.
func (s *LedgerService) afterCredit(ctx context.Context, userID string, previousLevel int, progression models.UserProgression, entries []models.XPHistoryEntry) {
	events := make([]models.LedgerEvent, 0, len(entries)+1)
	for _, entry := range entries {
		s.metrics.RecordCredit(entry.Reason, entry.Amount)
		event := models.LedgerEvent{
			Type:       models.EventXPCredited,
			UserID:     userID,
			OccurredAt: entry.RecordedAt,
			Amount:     entry.Amount,
			Reason:     entry.Reason,
			EntryID:    entry.ID,
			TotalXP:    progression.TotalXP,
		}
		if entry.RelatedRequestID != nil {
			event.RequestID = *entry.RelatedRequestID
		}
		if entry.ActorID != nil {
			event.ActorID = *entry.ActorID
		}
		events = append(events, event)
	}
	if previousLevel != progression.Level {
		events = append(events, models.LedgerEvent{
			Type:       models.EventLevelChanged,
			UserID:     userID,
			OccurredAt: progression.LastUpdatedAt,
			TotalXP:    progression.TotalXP,
			OldLevel:   previousLevel,
			NewLevel:   progression.Level,
		})
	}
	s.publish(ctx, events...)
	s.retireLeaderboardPages(ctx, userID)
}

// evaluateAfterCredit re-runs the badge rules once a credit committed. Failures are logged only.
func (s *LedgerService) evaluateAfterCredit(ctx context.Context, userID string) {
	if _, err := s.EvaluateBadges(ctx, userID); err != nil {
		s.logger.Warn("badge evaluation after credit failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *LedgerService) publish(ctx context.Context, events ...models.LedgerEvent) {
	if s.events == nil || len(events) == 0 {
		return
	}
	s.events.Publish(ctx, events...)
}

func (s *LedgerService) ensureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return s.storeError(err, "failed to resolve user")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return nil
}

func (s *LedgerService) validate(payload interface{}) error {
	if err := s.validator.Struct(payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	return nil
}

// storeError translates store failures into the public taxonomy; raw driver errors never escape.
func (s *LedgerService) storeError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.From(appErrors.ErrNotFound, err, "")
	case errors.Is(err, repository.ErrStoreConflict), errors.Is(err, repository.ErrDuplicateKey):
		return appErrors.From(appErrors.ErrStoreConflict, err, "")
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return appErrors.From(appErrors.ErrStoreUnavailable, err, "")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
