package models

import "time"

// EventType is the closed set of notifications emitted after a committed mutation.
type EventType string

const (
	EventRequestSubmitted EventType = "RequestSubmitted"
	EventRequestDecided   EventType = "RequestDecided"
	EventXPCredited       EventType = "XpCredited"
	EventLevelChanged     EventType = "LevelChanged"
	EventBadgeUnlocked    EventType = "BadgeUnlocked"
	EventBadgeRevoked     EventType = "BadgeRevoked"
)

// LedgerEvent is delivered fire-and-forget to the notification collaborator.
type LedgerEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	UserID     string          `json:"userId"`
	OccurredAt time.Time       `json:"occurredAt"`
	RequestID  string          `json:"requestId,omitempty"`
	Status     XPRequestStatus `json:"status,omitempty"`
	Amount     int64           `json:"amount,omitempty"`
	Reason     XPReason        `json:"reason,omitempty"`
	EntryID    string          `json:"entryId,omitempty"`
	TotalXP    int64           `json:"totalXp,omitempty"`
	OldLevel   int             `json:"oldLevel,omitempty"`
	NewLevel   int             `json:"newLevel,omitempty"`
	BadgeID    string          `json:"badgeId,omitempty"`
	ActorID    string          `json:"actorId,omitempty"`
}
