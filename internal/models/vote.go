/**
 * @description
 * Vote database model.
 * Maps to the 'votes' table in PostgreSQL.
 *
 * @notes
 * - UNIQUE(user_id, poll_id) is the storage-level guarantee of one vote per user per poll.
 * - option_id stays NULL for anonymous polls until the receipt is reconciled at close time.
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Confidence is informational and does not affect scoring
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is one of the recognised levels
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Vote is one user's ballot on one poll
type Vote struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_votes_user_poll,priority:1" json:"user_id"`
	PollID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_votes_user_poll,priority:2;index" json:"poll_id"`
	OptionID         *uuid.UUID `gorm:"type:uuid;index" json:"option_id"`
	Confidence       Confidence `gorm:"size:8;not null" json:"confidence"`
	VocdoniVoteID    *string    `gorm:"column:vocdoni_vote_id;size:200" json:"vocdoni_vote_id"`
	IsCorrect        *bool      `json:"is_correct"`
	MatchedConsensus *bool      `json:"matched_consensus"`
	PointsEarned     int64      `gorm:"not null;default:0" json:"points_earned"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (Vote) TableName() string {
	return "votes"
}

func (v *Vote) BeforeCreate(tx *gorm.DB) (err error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return
}

// Receipt returns the anonymous ballot receipt, or "" when none was recorded.
func (v *Vote) Receipt() string {
	if v.VocdoniVoteID == nil {
		return ""
	}
	return *v.VocdoniVoteID
}
