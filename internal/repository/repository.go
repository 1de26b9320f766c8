package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// UserVoteUpdate carries the single atomic user-row update performed after a vote.
// ExpectedLastVoted is the last_voted_date ("" for NULL) the streak was computed from;
// the update only applies while the row still holds that value.
type UserVoteUpdate struct {
	UserID            uuid.UUID
	Points            int64
	NewStreak         int
	NewMaxStreak      int
	VotedOn           time.Time
	ExpectedLastVoted string
}

// Repository is the datastore contract consumed by the vote and resolution services.
// Every counter mutation is a single server-side statement, never read-modify-write.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Repository) error) error

	// Users and ledger
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByAuthUID(ctx context.Context, authUID string) (*models.User, error)
	UpdateUserAfterVote(ctx context.Context, u UserVoteUpdate) (bool, error)
	AwardUserPoints(ctx context.Context, userID uuid.UUID, points int64, incrementCorrect bool) error
	AppendPointsHistory(ctx context.Context, entry *models.PointsHistory) error
	SumPointsHistory(ctx context.Context, userID uuid.UUID) (int64, error)
	ListTopUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	CountUsersAbove(ctx context.Context, points int64) (int64, error)

	// Polls and options
	GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListClosablePolls(ctx context.Context, now time.Time, forcePollID *uuid.UUID) ([]models.Poll, error)
	ListPollsAwaitingOutcome(ctx context.Context) ([]models.Poll, error)
	IncrementOptionVoteCount(ctx context.Context, optionID uuid.UUID) error
	// IncrementPollTotalVotes only applies while the poll is active. Inside a transaction
	// it holds the poll row, so a vote and a closing commit never interleave.
	IncrementPollTotalVotes(ctx context.Context, pollID uuid.UUID) (bool, error)
	SetOptionVoteCount(ctx context.Context, optionID uuid.UUID, count int64) error
	SetPollTotalVotes(ctx context.Context, pollID uuid.UUID, total int64) error
	SetOptionResult(ctx context.Context, optionID uuid.UUID, percentage float64, isWinner bool) error
	// LockActivePoll re-reads an active poll and its options, locking the poll row until
	// the surrounding transaction ends. Returns false when the poll is no longer active.
	LockActivePoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, bool, error)
	MarkPollClosed(ctx context.Context, pollID uuid.UUID, at time.Time) (bool, error)
	MarkPollResolved(ctx context.Context, pollID, consensusOptionID uuid.UUID, at time.Time) (bool, error)
	SetActualOutcome(ctx context.Context, pollID, optionID uuid.UUID) (bool, error)
	ActivatePoll(ctx context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error)
	ReopenPoll(ctx context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error)
	FinalizeElection(ctx context.Context, pollID uuid.UUID, electionID string) (bool, error)

	// Votes
	HasVoted(ctx context.Context, userID, pollID uuid.UUID) (bool, error)
	CreateVote(ctx context.Context, vote *models.Vote) error
	ListVotesByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error)
	SetVoteOption(ctx context.Context, voteID, optionID uuid.UUID) error
	ScoreVote(ctx context.Context, voteID uuid.UUID, correct bool, bonus int64) error
	AddVotePoints(ctx context.Context, voteID uuid.UUID, bonus int64) error

	// Sweep audit
	CreateSweepRun(ctx context.Context, run *models.SweepRun) error
}
