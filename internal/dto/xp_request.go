package dto

import "github.com/noah-isme/xp-ledger/internal/models"

// SubmitXPRequest is the claimant payload for a new XP request.
type SubmitXPRequest struct {
	XPAmount       int64  `json:"xpAmount"`
	Reason         string `json:"reason" validate:"required,max=200"`
	Description    string `json:"description" validate:"required,max=2000"`
	Evidence       string `json:"evidence" validate:"max=2000"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// DecideXPRequest captures a reviewer verdict.
type DecideXPRequest struct {
	Decision models.Decision `json:"decision" validate:"required,oneof=approve reject"`
	Feedback string          `json:"feedback" validate:"max=2000"`
}

// XPRequestQuery mirrors the pending-list filters.
type XPRequestQuery struct {
	UserID   string
	Page     int
	PageSize int
}
