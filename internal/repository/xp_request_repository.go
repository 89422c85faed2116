package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xp-ledger/internal/models"
)

const requestColumns = `id, user_id, xp_amount, reason, description, evidence, status, idempotency_key,
       requested_at, decided_by, decided_at, feedback`

// XPRequestRepository persists XP validation requests.
type XPRequestRepository struct {
	db *sqlx.DB
}

// NewXPRequestRepository constructs the repository.
func NewXPRequestRepository(db *sqlx.DB) *XPRequestRepository {
	return &XPRequestRepository{db: db}
}

// Create inserts a new pending request. A reused idempotency key yields ErrDuplicateKey.
func (r *XPRequestRepository) Create(ctx context.Context, request *models.XPRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.XPRequestStatusPending
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO xp_requests
	(id, user_id, xp_amount, reason, description, evidence, status, idempotency_key, requested_at, decided_by, decided_at, feedback)
	VALUES (:id, :user_id, :xp_amount, :reason, :description, :evidence, :status, :idempotency_key, :requested_at, :decided_by, :decided_at, :feedback)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return classify(fmt.Errorf("create xp request: %w", err))
	}
	return nil
}

// GetByID fetches a request by identifier, returning sql.ErrNoRows when absent.
func (r *XPRequestRepository) GetByID(ctx context.Context, id string) (*models.XPRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM xp_requests WHERE id = $1`
	var request models.XPRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify(fmt.Errorf("get xp request: %w", err))
	}
	return &request, nil
}

// FindByIdempotencyKey returns the request the user submitted under key, or sql.ErrNoRows.
func (r *XPRequestRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.XPRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM xp_requests WHERE user_id = $1 AND idempotency_key = $2`
	var request models.XPRequest
	if err := r.db.GetContext(ctx, &request, query, userID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify(fmt.Errorf("find xp request by key: %w", err))
	}
	return &request, nil
}

// List returns requests matching the filter, newest first.
func (r *XPRequestRepository) List(ctx context.Context, filter models.XPRequestFilter) ([]models.XPRequest, error) {
	where, args := requestConditions(filter)
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + requestColumns + ` FROM xp_requests`)
	builder.WriteString(where)
	builder.WriteString(" ORDER BY requested_at DESC, id DESC")

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.XPRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, classify(fmt.Errorf("list xp requests: %w", err))
	}
	return requests, nil
}

// Count returns the number of requests matching the filter, ignoring paging.
func (r *XPRequestRepository) Count(ctx context.Context, filter models.XPRequestFilter) (int, error) {
	where, args := requestConditions(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM xp_requests`+where, args...); err != nil {
		return 0, classify(fmt.Errorf("count xp requests: %w", err))
	}
	return total, nil
}

// ListByUser returns every request the user has submitted, in submission order.
func (r *XPRequestRepository) ListByUser(ctx context.Context, userID string) ([]models.XPRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM xp_requests WHERE user_id = $1 ORDER BY requested_at ASC, id ASC`
	var requests []models.XPRequest
	if err := r.db.SelectContext(ctx, &requests, query, userID); err != nil {
		return nil, classify(fmt.Errorf("list user xp requests: %w", err))
	}
	return requests, nil
}

func requestConditions(filter models.XPRequestFilter) (string, []interface{}) {
	args := make([]interface{}, 0, len(filter.Status)+1)
	conditions := make([]string, 0, 2)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
