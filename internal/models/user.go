/**
 * @description
 * User database model.
 * Maps to the 'users' table in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/gorm
 * - gorm.io/datatypes: calendar date column for streaks
 * - github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DateLayout is the calendar-day layout used for streak bookkeeping
const DateLayout = "2006-01-02"

// User is a verified person with running prediction stats
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	AuthUID       string    `gorm:"column:auth_uid;uniqueIndex;not null" json:"auth_uid"`
	Username      string    `gorm:"not null" json:"username"`
	NullifierHash string    `gorm:"not null" json:"-"`

	SwarmPoints        int64           `gorm:"not null;default:0" json:"swarm_points"`
	CorrectPredictions int64           `gorm:"not null;default:0" json:"correct_predictions"`
	TotalPredictions   int64           `gorm:"not null;default:0" json:"total_predictions"`
	CurrentStreak      int             `gorm:"not null;default:0" json:"current_streak"`
	MaxStreak          int             `gorm:"not null;default:0" json:"max_streak"`
	AccuracyScore      float64         `gorm:"type:numeric(6,4);not null;default:0" json:"accuracy_score"`
	LastVotedDate      *datatypes.Date `json:"last_voted_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by User to `users`
func (User) TableName() string {
	return "users"
}

// BeforeCreate ensures UUID is generated if not present (though DB usually handles this)
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return
}

// LastVotedDay returns last_voted_date as YYYY-MM-DD, or "" if the user never voted.
func (u *User) LastVotedDay() string {
	if u.LastVotedDate == nil {
		return ""
	}
	return time.Time(*u.LastVotedDate).UTC().Format(DateLayout)
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) datatypes.Date {
	y, m, d := t.UTC().Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}
