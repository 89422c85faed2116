package models

import "time"

// XPReason enumerates the sources that may write to the History Log.
type XPReason string

const (
	XPReasonTaskCompletion   XPReason = "task-completion"
	XPReasonManualAdjustment XPReason = "manual-adjustment"
	XPReasonDailyLogin       XPReason = "daily-login"
	XPReasonRequestApproval  XPReason = "request-approval"
	XPReasonBadgeBonus       XPReason = "badge-bonus"
)

// Valid reports whether r is one of the known reasons.
func (r XPReason) Valid() bool {
	switch r {
	case XPReasonTaskCompletion, XPReasonManualAdjustment, XPReasonDailyLogin,
		XPReasonRequestApproval, XPReasonBadgeBonus:
		return true
	}
	return false
}

// Grantable reports whether r may be used by a direct system or admin grant.
// Approvals and badge bonuses only enter the log through their own workflows.
func (r XPReason) Grantable() bool {
	switch r {
	case XPReasonTaskCompletion, XPReasonManualAdjustment, XPReasonDailyLogin:
		return true
	}
	return false
}

// XPHistoryEntry is one immutable row of the History Log.
type XPHistoryEntry struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"userId"`
	Amount           int64     `db:"amount" json:"amount"`
	Reason           XPReason  `db:"reason" json:"reason"`
	RelatedRequestID *string   `db:"related_request_id" json:"relatedRequestId,omitempty"`
	ActorID          *string   `db:"actor_id" json:"actorId,omitempty"`
	IdempotencyKey   *string   `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	Note             *string   `db:"note" json:"note,omitempty"`
	Sequence         int64     `db:"seq" json:"sequence"`
	RecordedAt       time.Time `db:"recorded_at" json:"recordedAt"`
}

// SumAmounts folds entries into a total.
func SumAmounts(entries []XPHistoryEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// CreditResult reports a committed (or replayed) grant.
type CreditResult struct {
	Entry       XPHistoryEntry  `json:"entry"`
	Progression UserProgression `json:"progression"`
	Replayed    bool            `json:"replayed"`
}
