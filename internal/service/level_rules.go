package service

import (
	"math"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// xpPerLevelUnit scales the level curve: level L starts at xpPerLevelUnit*(L-1)^2.
const xpPerLevelUnit = 100

// LevelOf maps a total onto its level: floor(sqrt(total/100)) + 1, never below 1.
func LevelOf(totalXP int64) int {
	if totalXP < xpPerLevelUnit {
		return 1
	}
	return int(isqrt(totalXP/xpPerLevelUnit)) + 1
}

// XPForLevel returns the minimum total at which level is reached. It is the inverse of LevelOf.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	steps := int64(level - 1)
	return xpPerLevelUnit * steps * steps
}

// Progress describes where totalXP sits between its level and the next one.
func Progress(totalXP int64) models.LevelProgress {
	level := LevelOf(totalXP)
	current := XPForLevel(level)
	next := XPForLevel(level + 1)
	clamped := totalXP
	if clamped < current {
		clamped = current
	}
	into := clamped - current
	span := next - current
	percent := 0.0
	if span > 0 {
		percent = math.Round(float64(into)/float64(span)*10000) / 100
	}
	return models.LevelProgress{
		Level:           level,
		CurrentLevelXP:  current,
		NextLevelXP:     next,
		XPIntoLevel:     into,
		XPToNextLevel:   next - clamped,
		ProgressPercent: percent,
	}
}

// isqrt is an exact integer square root; float sqrt drifts for large totals.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := int64(math.Sqrt(float64(n)))
	for x*x > n {
		x--
	}
	for (x+1)*(x+1) <= n {
		x++
	}
	return x
}
