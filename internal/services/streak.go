package services

import (
	"time"

	"github.com/swarmbet/backend/internal/models"
)

// NextStreak applies a vote cast at now to a user's streak.
// lastVoted is the YYYY-MM-DD of the previous vote or "" if none. Days are UTC.
func NextStreak(lastVoted string, now time.Time, current, max int) (streak, maxStreak int) {
	today := now.UTC().Format(models.DateLayout)
	yesterday := now.UTC().AddDate(0, 0, -1).Format(models.DateLayout)

	switch lastVoted {
	case yesterday:
		streak = current + 1
	case today:
		streak = current
	default:
		streak = 1
	}

	maxStreak = max
	if streak > maxStreak {
		maxStreak = streak
	}
	return streak, maxStreak
}
