package models

import "time"

// Fact keys understood by badge unlock conditions.
const (
	FactTotalXP        = "total_xp"
	FactLevel          = "level"
	FactTasksCompleted = "tasks_completed"
	FactLoginStreak    = "login_streak"
	FactHelpGiven      = "help_given"
)

// ActivityFacts carries counters supplied by the task/auxiliary-fact collaborator.
type ActivityFacts map[string]int64

// BadgeDefinition is a static catalogue entry. Every threshold must be met to unlock it.
type BadgeDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Icon        string           `json:"icon"`
	XPBonus     int64            `json:"xpBonus"`
	Threshold   map[string]int64 `json:"unlockCondition"`
}

// UserBadge is an unlock record. Revoked unlocks stay on file so the badge is never re-granted
// automatically and its bonus is never paid twice.
type UserBadge struct {
	UserID     string     `db:"user_id" json:"userId"`
	BadgeID    string     `db:"badge_id" json:"badgeId"`
	UnlockedAt time.Time  `db:"unlocked_at" json:"unlockedAt"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	RevokedBy  *string    `db:"revoked_by" json:"revokedBy,omitempty"`
}

// Active reports whether the unlock currently counts towards the user's badge set.
func (b UserBadge) Active() bool {
	return b.RevokedAt == nil
}

// BadgeEvaluation reports the outcome of one EvaluateBadges call.
type BadgeEvaluation struct {
	UserID        string            `json:"userId"`
	Unlocked      []BadgeDefinition `json:"unlocked"`
	BonusEntries  []XPHistoryEntry  `json:"bonusEntries"`
	Progression   UserProgression   `json:"progression"`
	PreviousLevel int               `json:"previousLevel"`
}
