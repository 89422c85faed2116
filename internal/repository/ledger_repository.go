package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xp-ledger/internal/models"
)

const (
	entryColumns       = `id, user_id, amount, reason, related_request_id, actor_id, idempotency_key, note, seq, recorded_at`
	progressionColumns = `user_id, total_xp, level, version, last_updated_at`
	badgeColumns       = `user_id, badge_id, unlocked_at, revoked_at, revoked_by`
)

// LedgerRepository persists the History Log, the per-user projections and badge unlocks in PostgreSQL.
type LedgerRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// WithinUserTx runs fn while holding the row lock on the user's projection.
func (r *LedgerRepository) WithinUserTx(ctx context.Context, userID string, fn func(LedgerTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin ledger transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const ensureQuery = `INSERT INTO user_progressions (user_id, total_xp, level, version, last_updated_at)
VALUES ($1, 0, 1, 0, $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, ensureQuery, userID, r.now().UTC()); err != nil {
		return classify(fmt.Errorf("ensure projection: %w", err))
	}

	var progression models.UserProgression
	const lockQuery = `SELECT ` + progressionColumns + ` FROM user_progressions WHERE user_id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &progression, lockQuery, userID); err != nil {
		return classify(fmt.Errorf("lock projection: %w", err))
	}

	if err = fn(&sqlLedgerTx{tx: tx, progression: progression}); err != nil {
		return classify(err)
	}

	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit ledger transaction: %w", err))
	}
	return nil
}

// ListEntries returns the user's History Log in replay order.
func (r *LedgerRepository) ListEntries(ctx context.Context, userID string) ([]models.XPHistoryEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM xp_history WHERE user_id = $1 ORDER BY recorded_at ASC, seq ASC`
	var entries []models.XPHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, classify(fmt.Errorf("list history: %w", err))
	}
	return entries, nil
}

// ListEntriesByRequest returns every entry referencing the request.
func (r *LedgerRepository) ListEntriesByRequest(ctx context.Context, requestID string) ([]models.XPHistoryEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM xp_history WHERE related_request_id = $1 ORDER BY seq ASC`
	var entries []models.XPHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, classify(fmt.Errorf("list history by request: %w", err))
	}
	return entries, nil
}

// GetProgression returns the projection or nil when the user has never been credited.
func (r *LedgerRepository) GetProgression(ctx context.Context, userID string) (*models.UserProgression, error) {
	const query = `SELECT ` + progressionColumns + ` FROM user_progressions WHERE user_id = $1`
	var progression models.UserProgression
	if err := r.db.GetContext(ctx, &progression, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("get projection: %w", err))
	}
	return &progression, nil
}

// ListBadges returns all unlock records for the user, revoked ones included.
func (r *LedgerRepository) ListBadges(ctx context.Context, userID string) ([]models.UserBadge, error) {
	const query = `SELECT ` + badgeColumns + ` FROM user_badges WHERE user_id = $1 ORDER BY unlocked_at ASC, badge_id ASC`
	var badges []models.UserBadge
	if err := r.db.SelectContext(ctx, &badges, query, userID); err != nil {
		return nil, classify(fmt.Errorf("list badges: %w", err))
	}
	return badges, nil
}

// TopProgressions returns projections ordered by total desc, earliest update first on ties.
// Version 0 rows are lock placeholders for users that were never credited and are not ranked.
func (r *LedgerRepository) TopProgressions(ctx context.Context, scope models.LeaderboardScope) ([]models.LeaderboardEntry, error) {
	const query = `SELECT user_id, total_xp, level, last_updated_at FROM user_progressions
WHERE version > 0
ORDER BY total_xp DESC, last_updated_at ASC, user_id ASC
LIMIT $1 OFFSET $2`
	var entries []models.LeaderboardEntry
	if err := r.db.SelectContext(ctx, &entries, query, scope.Limit, scope.Offset); err != nil {
		return nil, classify(fmt.Errorf("leaderboard: %w", err))
	}
	return entries, nil
}

// CountProgressions returns the number of ranked users.
func (r *LedgerRepository) CountProgressions(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM user_progressions WHERE version > 0`); err != nil {
		return 0, classify(fmt.Errorf("count projections: %w", err))
	}
	return total, nil
}

// RankOf returns the 1-based position of the user under the leaderboard ordering.
func (r *LedgerRepository) RankOf(ctx context.Context, userID string) (int, bool, error) {
	const query = `SELECT COUNT(*) + 1 FROM user_progressions p
JOIN user_progressions me ON me.user_id = $1
WHERE p.version > 0 AND (
      p.total_xp > me.total_xp
   OR (p.total_xp = me.total_xp AND p.last_updated_at < me.last_updated_at)
   OR (p.total_xp = me.total_xp AND p.last_updated_at = me.last_updated_at AND p.user_id < me.user_id))`
	progression, err := r.GetProgression(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if progression == nil || progression.Version == 0 {
		return 0, false, nil
	}
	var rank int
	if err := r.db.GetContext(ctx, &rank, query, userID); err != nil {
		return 0, false, classify(fmt.Errorf("rank: %w", err))
	}
	return rank, true, nil
}

// ListUserIDs pages through projected users in id order, starting after the given id.
func (r *LedgerRepository) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	const query = `SELECT user_id FROM user_progressions WHERE user_id > $1 ORDER BY user_id ASC LIMIT $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, after, limit); err != nil {
		return nil, classify(fmt.Errorf("list projected users: %w", err))
	}
	return ids, nil
}

type sqlLedgerTx struct {
	tx          *sqlx.Tx
	progression models.UserProgression
}

func (t *sqlLedgerTx) Progression() models.UserProgression {
	return t.progression
}

func (t *sqlLedgerTx) Badges(ctx context.Context) ([]models.UserBadge, error) {
	const query = `SELECT ` + badgeColumns + ` FROM user_badges WHERE user_id = $1 ORDER BY unlocked_at ASC, badge_id ASC`
	var badges []models.UserBadge
	if err := t.tx.SelectContext(ctx, &badges, query, t.progression.UserID); err != nil {
		return nil, fmt.Errorf("list badges in tx: %w", err)
	}
	return badges, nil
}

func (t *sqlLedgerTx) Entries(ctx context.Context) ([]models.XPHistoryEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM xp_history WHERE user_id = $1 ORDER BY recorded_at ASC, seq ASC`
	var entries []models.XPHistoryEntry
	if err := t.tx.SelectContext(ctx, &entries, query, t.progression.UserID); err != nil {
		return nil, fmt.Errorf("list history in tx: %w", err)
	}
	return entries, nil
}

func (t *sqlLedgerTx) Requests(ctx context.Context) ([]models.XPRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM xp_requests WHERE user_id = $1 ORDER BY requested_at ASC, id ASC`
	var requests []models.XPRequest
	if err := t.tx.SelectContext(ctx, &requests, query, t.progression.UserID); err != nil {
		return nil, fmt.Errorf("list xp requests in tx: %w", err)
	}
	return requests, nil
}

func (t *sqlLedgerTx) FindEntryByIdempotencyKey(ctx context.Context, key string) (*models.XPHistoryEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM xp_history WHERE user_id = $1 AND idempotency_key = $2`
	var entry models.XPHistoryEntry
	if err := t.tx.GetContext(ctx, &entry, query, t.progression.UserID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find entry by key: %w", err)
	}
	return &entry, nil
}

func (t *sqlLedgerTx) AppendEntry(ctx context.Context, entry *models.XPHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UserID = t.progression.UserID
	const query = `INSERT INTO xp_history
	(id, user_id, amount, reason, related_request_id, actor_id, idempotency_key, note, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`
	row := t.tx.QueryRowxContext(ctx, query,
		entry.ID, entry.UserID, entry.Amount, entry.Reason, entry.RelatedRequestID,
		entry.ActorID, entry.IdempotencyKey, entry.Note, entry.RecordedAt,
	)
	if err := row.Scan(&entry.Sequence); err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

func (t *sqlLedgerTx) SaveProgression(ctx context.Context, progression *models.UserProgression) error {
	const query = `UPDATE user_progressions
SET total_xp = $1, level = $2, last_updated_at = $3, version = version + 1
WHERE user_id = $4 AND version = $5`
	result, err := t.tx.ExecContext(ctx, query,
		progression.TotalXP, progression.Level, progression.LastUpdatedAt, t.progression.UserID, t.progression.Version)
	if err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check projection update rows: %w", err)
	}
	if rows == 0 {
		return ErrStoreConflict
	}
	progression.Version = t.progression.Version + 1
	t.progression = *progression
	return nil
}

func (t *sqlLedgerTx) TransitionRequest(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE xp_requests SET status = $1, decided_by = $2, decided_at = $3, feedback = $4
WHERE id = $5 AND user_id = $6 AND status = 'pending'`
	result, err := t.tx.ExecContext(ctx, query,
		params.Status, params.DecidedBy, params.DecidedAt, params.Feedback, params.RequestID, t.progression.UserID)
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request transition rows: %w", err)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}

func (t *sqlLedgerTx) InsertBadge(ctx context.Context, badge models.UserBadge) error {
	const query = `INSERT INTO user_badges (user_id, badge_id, unlocked_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id, badge_id) DO NOTHING`
	result, err := t.tx.ExecContext(ctx, query, t.progression.UserID, badge.BadgeID, badge.UnlockedAt)
	if err != nil {
		return fmt.Errorf("insert badge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check badge insert rows: %w", err)
	}
	if rows == 0 {
		return ErrStoreConflict
	}
	return nil
}

func (t *sqlLedgerTx) RevokeBadge(ctx context.Context, badgeID string, at time.Time, by string) error {
	const query = `UPDATE user_badges SET revoked_at = $1, revoked_by = $2
WHERE user_id = $3 AND badge_id = $4 AND revoked_at IS NULL`
	result, err := t.tx.ExecContext(ctx, query, at, by, t.progression.UserID, badgeID)
	if err != nil {
		return fmt.Errorf("revoke badge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check badge revoke rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *sqlLedgerTx) ReinstateBadge(ctx context.Context, badgeID string) error {
	const query = `UPDATE user_badges SET revoked_at = NULL, revoked_by = NULL
WHERE user_id = $1 AND badge_id = $2 AND revoked_at IS NOT NULL`
	result, err := t.tx.ExecContext(ctx, query, t.progression.UserID, badgeID)
	if err != nil {
		return fmt.Errorf("reinstate badge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check badge reinstate rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
