package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelOf(t *testing.T) {
	cases := map[int64]int{
		-50:     1,
		0:       1,
		50:      1,
		99:      1,
		100:     2,
		399:     2,
		400:     3,
		900:     4,
		8100:    10,
		1000000: 101,
	}
	for total, level := range cases {
		assert.Equal(t, level, LevelOf(total), "total %d", total)
	}
}

func TestLevelCurveIsMonotonicAndInverse(t *testing.T) {
	prev := LevelOf(0)
	for total := int64(0); total <= 20000; total += 7 {
		level := LevelOf(total)
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
	for level := 1; level <= 200; level++ {
		threshold := XPForLevel(level)
		assert.Equal(t, level, LevelOf(threshold))
		if threshold > 0 {
			assert.Equal(t, level-1, LevelOf(threshold-1))
		}
	}
}

func TestProgress(t *testing.T) {
	p := Progress(250)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, int64(100), p.CurrentLevelXP)
	assert.Equal(t, int64(400), p.NextLevelXP)
	assert.Equal(t, int64(150), p.XPIntoLevel)
	assert.Equal(t, int64(150), p.XPToNextLevel)
	assert.Equal(t, 50.0, p.ProgressPercent)

	negative := Progress(-30)
	assert.Equal(t, 1, negative.Level)
	assert.Equal(t, int64(0), negative.XPIntoLevel)
	assert.Equal(t, int64(100), negative.XPToNextLevel)
}
