package models

import "time"

// UserProgression is the projection of a user's History Log.
type UserProgression struct {
	UserID        string    `db:"user_id" json:"userId"`
	TotalXP       int64     `db:"total_xp" json:"totalXp"`
	Level         int       `db:"level" json:"level"`
	Version       int64     `db:"version" json:"version"`
	LastUpdatedAt time.Time `db:"last_updated_at" json:"lastUpdatedAt"`
	Badges        []string  `db:"-" json:"badges"`
}

// LevelProgress describes where a total sits on the level curve.
type LevelProgress struct {
	Level           int     `json:"level"`
	CurrentLevelXP  int64   `json:"currentLevelXp"`
	NextLevelXP     int64   `json:"nextLevelXp"`
	XPIntoLevel     int64   `json:"xpIntoLevel"`
	XPToNextLevel   int64   `json:"xpToNextLevel"`
	ProgressPercent float64 `json:"progressPercent"`
}

// ProgressionView is the read model returned to clients.
type ProgressionView struct {
	UserProgression
	Progress LevelProgress `json:"progress"`
}
