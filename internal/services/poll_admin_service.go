/**
 * @description
 * Administrative poll transitions: activate, reopen, and election finalization.
 *
 * @notes
 * - Reopen discards resolution state but keeps awarded points and any recorded real outcome.
 */

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

const (
	minElectionIDLength = 10
	maxElectionIDLength = 200
)

type PollAdminService struct {
	repo   repository.Repository
	window time.Duration
	now    func() time.Time
}

func NewPollAdminService(repo repository.Repository, cfg config.EngineConfig) *PollAdminService {
	window := cfg.PollWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &PollAdminService{repo: repo, window: window, now: time.Now}
}

type FinalizeElectionResult struct {
	PollID           uuid.UUID `json:"poll_id"`
	ElectionID       string    `json:"election_id"`
	AlreadyFinalized bool      `json:"already_finalized"`
}

// Activate moves an upcoming poll to active with a fresh voting window.
func (s *PollAdminService) Activate(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	now := s.now()
	ok, err := s.repo.ActivatePoll(ctx, pollID, now, now.Add(s.window))
	if err != nil {
		return nil, storageError("activate poll", err)
	}
	return s.afterTransition(ctx, pollID, ok, "activated")
}

// Reopen moves a closed or resolved poll back to active, clearing its consensus.
func (s *PollAdminService) Reopen(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	now := s.now()
	ok, err := s.repo.ReopenPoll(ctx, pollID, now, now.Add(s.window))
	if err != nil {
		return nil, storageError("reopen poll", err)
	}
	return s.afterTransition(ctx, pollID, ok, "reopened")
}

func (s *PollAdminService) afterTransition(ctx context.Context, pollID uuid.UUID, applied bool, verb string) (*models.Poll, error) {
	poll, err := s.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, storageError("load poll", err)
	}
	if !applied {
		return nil, fmt.Errorf("poll %s cannot be %s from status %s: %w", pollID, verb, poll.Status, ErrNotActive)
	}
	logger.Info("PollAdminService: poll %s %s until %s", pollID, verb, poll.ClosesAt.Format(time.RFC3339))
	return poll, nil
}

// FinalizeElection replaces the pending election sentinel with the created election id.
// Concurrent finalizers race on a compare-and-set; losers get the winner's id back.
func (s *PollAdminService) FinalizeElection(ctx context.Context, pollID uuid.UUID, electionID string) (*FinalizeElectionResult, error) {
	if len(electionID) < minElectionIDLength || len(electionID) > maxElectionIDLength || electionID == models.ElectionPending {
		return nil, validationError("invalid election id")
	}

	set, err := s.repo.FinalizeElection(ctx, pollID, electionID)
	if err != nil {
		return nil, storageError("finalize election", err)
	}
	if set {
		logger.Info("PollAdminService: poll %s bound to election %s", pollID, electionID)
		return &FinalizeElectionResult{PollID: pollID, ElectionID: electionID}, nil
	}

	poll, err := s.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, storageError("load poll", err)
	}
	ballot := poll.Ballot()
	if ballot.Kind != models.BallotAnonymous {
		return nil, validationError("poll has no anonymous election to finalize")
	}
	return &FinalizeElectionResult{PollID: pollID, ElectionID: ballot.ElectionID, AlreadyFinalized: true}, nil
}
