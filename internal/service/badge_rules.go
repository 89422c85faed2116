package service

import (
	"sort"

	"github.com/noah-isme/xp-ledger/internal/models"
)

var badgeCatalogue = []models.BadgeDefinition{
	{
		ID:          "rookie",
		Name:        "Rookie",
		Description: "Reach level 2",
		Icon:        "sprout",
		Threshold:   map[string]int64{models.FactLevel: 2},
	},
	{
		ID:          "xp-1000",
		Name:        "Thousand Club",
		Description: "Accumulate 1000 XP",
		Icon:        "trophy",
		XPBonus:     50,
		Threshold:   map[string]int64{models.FactTotalXP: 1000},
	},
	{
		ID:          "task-10",
		Name:        "Finisher",
		Description: "Complete 10 tasks",
		Icon:        "check-circle",
		XPBonus:     100,
		Threshold:   map[string]int64{models.FactTasksCompleted: 10},
	},
	{
		ID:          "streak-7",
		Name:        "On Fire",
		Description: "Log in 7 days in a row",
		Icon:        "flame",
		XPBonus:     25,
		Threshold:   map[string]int64{models.FactLoginStreak: 7},
	},
	{
		ID:          "helper-5",
		Name:        "Helping Hand",
		Description: "Help teammates 5 times",
		Icon:        "handshake",
		XPBonus:     25,
		Threshold:   map[string]int64{models.FactHelpGiven: 5},
	},
	{
		ID:          "level-10",
		Name:        "Veteran",
		Description: "Reach level 10",
		Icon:        "star",
		XPBonus:     200,
		Threshold:   map[string]int64{models.FactLevel: 10},
	},
}

// Catalogue returns a copy of the static badge catalogue in evaluation order.
func Catalogue() []models.BadgeDefinition {
	out := make([]models.BadgeDefinition, len(badgeCatalogue))
	for i, def := range badgeCatalogue {
		out[i] = def
		out[i].Threshold = make(map[string]int64, len(def.Threshold))
		for k, v := range def.Threshold {
			out[i].Threshold[k] = v
		}
	}
	return out
}

// BadgeByID looks up a catalogue entry.
func BadgeByID(id string) (models.BadgeDefinition, bool) {
	for _, def := range Catalogue() {
		if def.ID == id {
			return def, true
		}
	}
	return models.BadgeDefinition{}, false
}

// Qualifies reports whether every threshold of def is met by facts.
func Qualifies(def models.BadgeDefinition, facts models.ActivityFacts) bool {
	if len(def.Threshold) == 0 {
		return false
	}
	for fact, min := range def.Threshold {
		if facts[fact] < min {
			return false
		}
	}
	return true
}

// EligibleBadges returns the catalogue entries facts qualify for that are not in held.
// held includes revoked unlocks so they are never granted again automatically.
func EligibleBadges(facts models.ActivityFacts, held map[string]bool) []models.BadgeDefinition {
	var out []models.BadgeDefinition
	for _, def := range Catalogue() {
		if held[def.ID] {
			continue
		}
		if Qualifies(def, facts) {
			out = append(out, def)
		}
	}
	return out
}

// factsFor overlays the projection onto the collaborator's counters.
func factsFor(base models.ActivityFacts, progression models.UserProgression) models.ActivityFacts {
	facts := make(models.ActivityFacts, len(base)+2)
	for k, v := range base {
		facts[k] = v
	}
	facts[models.FactTotalXP] = progression.TotalXP
	facts[models.FactLevel] = int64(LevelOf(progression.TotalXP))
	return facts
}

// activeBadgeIDs returns the ids of unlocks that have not been revoked, sorted.
func activeBadgeIDs(badges []models.UserBadge) []string {
	ids := make([]string, 0, len(badges))
	for _, b := range badges {
		if b.Active() {
			ids = append(ids, b.BadgeID)
		}
	}
	sort.Strings(ids)
	return ids
}
