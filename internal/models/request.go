package models

import "time"

// XPRequestStatus captures the validation workflow states.
type XPRequestStatus string

const (
	XPRequestStatusPending  XPRequestStatus = "pending"
	XPRequestStatusApproved XPRequestStatus = "approved"
	XPRequestStatusRejected XPRequestStatus = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s XPRequestStatus) Terminal() bool {
	return s == XPRequestStatusApproved || s == XPRequestStatusRejected
}

// Decision is a reviewer verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status maps a decision onto the terminal status it produces.
func (d Decision) Status() XPRequestStatus {
	if d == DecisionApprove {
		return XPRequestStatusApproved
	}
	return XPRequestStatusRejected
}

// XPRequest is a claim for XP awaiting reviewer countersignature.
type XPRequest struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"userId"`
	XPAmount       int64           `db:"xp_amount" json:"xpAmount"`
	Reason         string          `db:"reason" json:"reason"`
	Description    string          `db:"description" json:"description"`
	Evidence       string          `db:"evidence" json:"evidence"`
	Status         XPRequestStatus `db:"status" json:"status"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	RequestedAt    time.Time       `db:"requested_at" json:"requestedAt"`
	DecidedBy      *string         `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt      *time.Time      `db:"decided_at" json:"decidedAt,omitempty"`
	Feedback       *string         `db:"feedback" json:"feedback,omitempty"`
}

// XPRequestFilter constrains listing queries.
type XPRequestFilter struct {
	Status []XPRequestStatus
	UserID string
	Limit  int
	Offset int
}

// DecisionResult reports the effective outcome of a Decide call. AlreadyDecided is set when the
// request was terminal before this call; Request then carries the stored outcome.
type DecisionResult struct {
	Request        *XPRequest      `json:"request"`
	Entry          *XPHistoryEntry `json:"entry,omitempty"`
	AlreadyDecided bool            `json:"alreadyDecided"`
}
