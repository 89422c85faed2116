package dto

import "github.com/noah-isme/xp-ledger/internal/models"

// GrantXPRequest is an administrative or system credit. Negative amounts are corrections.
type GrantXPRequest struct {
	Amount         int64           `json:"amount"`
	Reason         models.XPReason `json:"reason" validate:"required"`
	Note           string          `json:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// LeaderboardQuery pages through the ranking.
type LeaderboardQuery struct {
	Limit  int
	Offset int
}

// HistoryExportQuery selects the export format.
type HistoryExportQuery struct {
	Format string `validate:"required,oneof=csv pdf"`
}
