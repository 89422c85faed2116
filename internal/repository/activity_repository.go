package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// ActivityRepository reads activity counters maintained by the task tracker.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

type activityCounter struct {
	Metric string `db:"metric"`
	Value  int64  `db:"value"`
}

// Facts returns the user's counters keyed by metric. Missing counters read as zero.
func (r *ActivityRepository) Facts(ctx context.Context, userID string) (models.ActivityFacts, error) {
	const query = `SELECT metric, value FROM activity_counters WHERE user_id = $1`
	var rows []activityCounter
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, classify(fmt.Errorf("load activity facts: %w", err))
	}
	facts := make(models.ActivityFacts, len(rows))
	for _, row := range rows {
		facts[row.Metric] = row.Value
	}
	return facts, nil
}
