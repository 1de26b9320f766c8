/**
 * @description
 * Poll and PollOption database models.
 * Maps to the 'polls' and 'poll_options' tables in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 *
 * @notes
 * - display_order is 1-based and dense per poll. It is the index space shared with
 *   the anonymous tally network: ballot index = display_order - 1.
 * - Polls are never deleted; reopen is the only way back to active.
 */

package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PollStatus is the lifecycle state of a poll
type PollStatus string

const (
	PollStatusUpcoming PollStatus = "upcoming"
	PollStatusActive   PollStatus = "active"
	PollStatusClosed   PollStatus = "closed"
	PollStatusResolved PollStatus = "resolved"
)

// ElectionPending marks an anonymous poll whose election is not yet created on-chain.
const ElectionPending = "pending"

const (
	DefaultPointsForVoting    = 1000
	DefaultPointsForConsensus = 5000
)

// Poll is one question with a closing deadline
type Poll struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Question    string     `gorm:"not null" json:"question"`
	Description *string    `json:"description"`
	Category    string     `gorm:"size:64;not null;default:'general'" json:"category"`
	DayNumber   int        `gorm:"not null;default:0" json:"day_number"`
	OpensAt     time.Time  `gorm:"not null" json:"opens_at"`
	ClosesAt    time.Time  `gorm:"not null;index:idx_polls_status_closes_at,priority:2" json:"closes_at"`
	Status      PollStatus `gorm:"size:16;not null;default:'upcoming';index:idx_polls_status_closes_at,priority:1" json:"status"`
	TotalVotes  int64      `gorm:"not null;default:0" json:"total_votes"`

	PointsForVoting    int64 `gorm:"not null;default:1000" json:"points_for_voting"`
	PointsForConsensus int64 `gorm:"not null;default:5000" json:"points_for_consensus"`

	PolymarketEventID *string `gorm:"column:polymarket_event_id" json:"polymarket_event_id"`
	PolymarketSlug    *string `gorm:"column:polymarket_slug" json:"polymarket_slug"`
	VocdoniElectionID *string `gorm:"column:vocdoni_election_id" json:"vocdoni_election_id"`

	CrowdConsensusOptionID *uuid.UUID `gorm:"type:uuid" json:"crowd_consensus_option_id"`
	WinningOptionID        *uuid.UUID `gorm:"type:uuid" json:"winning_option_id"`
	ActualOutcomeOptionID  *uuid.UUID `gorm:"type:uuid" json:"actual_outcome_option_id"`
	ResolvedAt             *time.Time `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Options []PollOption `gorm:"foreignKey:PollID" json:"options,omitempty"`
}

// TableName overrides the table name used by Poll to `polls`
func (Poll) TableName() string {
	return "polls"
}

func (p *Poll) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

// AcceptsVotesAt reports whether the poll is active and t lies in [opens_at, closes_at].
func (p *Poll) AcceptsVotesAt(t time.Time) bool {
	if p.Status != PollStatusActive {
		return false
	}
	return !t.Before(p.OpensAt) && !t.After(p.ClosesAt)
}

// ConsensusPoints returns the per-poll consensus bonus, falling back to the default.
func (p *Poll) ConsensusPoints() int64 {
	if p.PointsForConsensus <= 0 {
		return DefaultPointsForConsensus
	}
	return p.PointsForConsensus
}

// MarketRef returns the linked Polymarket event id and slug, either may be empty.
func (p *Poll) MarketRef() (eventID, slug string) {
	if p.PolymarketEventID != nil {
		eventID = *p.PolymarketEventID
	}
	if p.PolymarketSlug != nil {
		slug = *p.PolymarketSlug
	}
	return eventID, slug
}

// SortedOptions returns the options in canonical display order.
func (p *Poll) SortedOptions() []PollOption {
	out := make([]PollOption, len(p.Options))
	copy(out, p.Options)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

// BallotKind distinguishes public polls from anonymous ones
type BallotKind int

const (
	BallotPublic BallotKind = iota
	BallotAnonymousPending
	BallotAnonymous
)

// BallotMode is the tagged ballot variant of a poll
type BallotMode struct {
	Kind       BallotKind
	ElectionID string // set only for BallotAnonymous
}

// Anonymous reports whether votes on this poll must not store the chosen option.
func (m BallotMode) Anonymous() bool {
	return m.Kind != BallotPublic
}

// Ballot derives the ballot mode from the stored election reference.
func (p *Poll) Ballot() BallotMode {
	if p.VocdoniElectionID == nil || *p.VocdoniElectionID == "" {
		return BallotMode{Kind: BallotPublic}
	}
	if *p.VocdoniElectionID == ElectionPending {
		return BallotMode{Kind: BallotAnonymousPending}
	}
	return BallotMode{Kind: BallotAnonymous, ElectionID: *p.VocdoniElectionID}
}

// PollOption is one selectable answer belonging to exactly one poll
type PollOption struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	PollID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_poll_options_poll_order,priority:1" json:"poll_id"`
	Label           string    `gorm:"not null" json:"label"`
	FlagEmoji       *string   `json:"flag_emoji"`
	DisplayOrder    int       `gorm:"not null;uniqueIndex:idx_poll_options_poll_order,priority:2" json:"display_order"`
	VoteCount       int64     `gorm:"not null;default:0" json:"vote_count"`
	VotePercentage  float64   `gorm:"type:numeric(5,2);not null;default:0" json:"vote_percentage"`
	IsWinner        bool      `gorm:"not null;default:false" json:"is_winner"`
	PolymarketPrice *float64  `json:"polymarket_price"`
	CreatedAt       time.Time `json:"created_at"`
}

func (PollOption) TableName() string {
	return "poll_options"
}

func (o *PollOption) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return
}

// BallotIndex is the zero-based index used by the anonymous tally network.
func (o *PollOption) BallotIndex() int {
	return o.DisplayOrder - 1
}
