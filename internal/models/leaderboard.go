package models

import "time"

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank          int       `db:"-" json:"rank"`
	UserID        string    `db:"user_id" json:"userId"`
	TotalXP       int64     `db:"total_xp" json:"totalXp"`
	Level         int       `db:"level" json:"level"`
	LastUpdatedAt time.Time `db:"last_updated_at" json:"lastUpdatedAt"`
}

// LeaderboardScope pages through the ranking.
type LeaderboardScope struct {
	Limit  int
	Offset int
}

// LeaderboardPage is a page of the ranking plus the population size.
type LeaderboardPage struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int                `json:"total"`
}
