/**
 * @description
 * Points ledger and sweep audit models.
 * Maps to the 'points_history' and 'sweep_runs' tables in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/datatypes: JSONB column for per-poll sweep results
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PointsType tags a ledger entry
type PointsType string

const (
	PointsTypeVote               PointsType = "vote"
	PointsTypeConsensusBonus     PointsType = "consensus_bonus"
	PointsTypeActualOutcomeBonus PointsType = "actual_outcome_bonus"
)

// PointsHistory is an append-only ledger entry
type PointsHistory struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Type        PointsType `gorm:"size:32;not null" json:"type"`
	Description string     `json:"description"`
	PollID      *uuid.UUID `gorm:"type:uuid;index" json:"poll_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (PointsHistory) TableName() string {
	return "points_history"
}

func (h *PointsHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return
}

// SweepKind identifies which sweep produced a run record
type SweepKind string

const (
	SweepKindClose     SweepKind = "close"
	SweepKindReconcile SweepKind = "reconcile"
)

// SweepRun records one sweep invocation and its per-poll results
type SweepRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Kind         SweepKind      `gorm:"size:16;not null;index" json:"kind"`
	ForcedPollID *uuid.UUID     `gorm:"type:uuid" json:"forced_poll_id"`
	Processed    int            `gorm:"not null;default:0" json:"processed"`
	Failed       int            `gorm:"not null;default:0" json:"failed"`
	Results      datatypes.JSON `gorm:"type:jsonb" json:"results"`
	StartedAt    time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt   time.Time      `gorm:"not null" json:"finished_at"`
}

func (SweepRun) TableName() string {
	return "sweep_runs"
}

func (r *SweepRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}
