package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// Store level sentinels. Service code maps them onto the public error taxonomy.
var (
	ErrStoreConflict    = errors.New("store conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrNotPending       = errors.New("request is not pending")
)

// TransitionParams carries the conditional pending -> terminal write.
type TransitionParams struct {
	RequestID string
	UserID    string
	Status    models.XPRequestStatus
	DecidedBy string
	DecidedAt time.Time
	Feedback  *string
}

// LedgerTx is the per-user atomic unit. The user's projection row is locked for the lifetime of
// the transaction and every write becomes visible together on commit, or not at all.
type LedgerTx interface {
	// Progression returns the locked projection as read at the start of the transaction.
	Progression() models.UserProgression
	Badges(ctx context.Context) ([]models.UserBadge, error)
	// Entries and Requests read the user's History Log and XP requests as the transaction sees them.
	Entries(ctx context.Context) ([]models.XPHistoryEntry, error)
	Requests(ctx context.Context) ([]models.XPRequest, error)
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*models.XPHistoryEntry, error)
	AppendEntry(ctx context.Context, entry *models.XPHistoryEntry) error
	SaveProgression(ctx context.Context, progression *models.UserProgression) error
	TransitionRequest(ctx context.Context, params TransitionParams) error
	InsertBadge(ctx context.Context, badge models.UserBadge) error
	RevokeBadge(ctx context.Context, badgeID string, at time.Time, by string) error
	ReinstateBadge(ctx context.Context, badgeID string) error
}

// classify folds driver errors into the store sentinels while keeping the original cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrStoreConflict) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDuplicateKey) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", ErrStoreConflict, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
