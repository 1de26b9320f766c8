package services

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swarmbet/backend/internal/models"
)

// PickConsensus returns the option with the strictly greatest count.
// Ties go to the lowest display_order. No option wins when every count is zero.
func PickConsensus(options []models.PollOption, counts map[uuid.UUID]int64) (*models.PollOption, bool) {
	var best *models.PollOption
	var bestCount int64
	for i := range options {
		c := counts[options[i].ID]
		if c <= 0 {
			continue
		}
		if best == nil || c > bestCount || (c == bestCount && options[i].DisplayOrder < best.DisplayOrder) {
			best = &options[i]
			bestCount = c
		}
	}
	return best, best != nil
}

// VotePercentage returns 100*count/total rounded to two decimals, 0 when total is 0.
func VotePercentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(count).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(2).
		InexactFloat64()
}

// MatchOptionLabel finds the option naming label, case-insensitively.
// Exact matches win over substring matches in either direction.
func MatchOptionLabel(options []models.PollOption, label string) (*models.PollOption, bool) {
	want := normalizeLabel(label)
	if want == "" {
		return nil, false
	}
	for i := range options {
		if normalizeLabel(options[i].Label) == want {
			return &options[i], true
		}
	}
	for i := range options {
		have := normalizeLabel(options[i].Label)
		if have == "" {
			continue
		}
		if strings.Contains(want, have) || strings.Contains(have, want) {
			return &options[i], true
		}
	}
	return nil, false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
