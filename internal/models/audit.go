package models

import "time"

// AuditFinding describes one invariant violation discovered by a ledger audit.
type AuditFinding struct {
	Check   string `json:"check"`
	Detail  string `json:"detail"`
	EntryID string `json:"entryId,omitempty"`
	Request string `json:"requestId,omitempty"`
}

// AuditReport is the result of replaying a user's History Log against its projection.
type AuditReport struct {
	UserID          string         `json:"userId"`
	Entries         int            `json:"entries"`
	ReplayedTotal   int64          `json:"replayedTotal"`
	ProjectedTotal  int64          `json:"projectedTotal"`
	ProjectedLevel  int            `json:"projectedLevel"`
	CheckedRequests int            `json:"checkedRequests"`
	Findings        []AuditFinding `json:"findings"`
	CheckedAt       time.Time      `json:"checkedAt"`
}

// Consistent reports whether the audit found no violation.
func (r AuditReport) Consistent() bool {
	return len(r.Findings) == 0
}
