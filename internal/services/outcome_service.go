/**
 * @description
 * Oracle reconciliation sweep.
 * Checks resolved polls linked to a Polymarket event and, once the market settles,
 * records the real-world outcome and pays the outcome bonus to voters who picked it.
 *
 * @dependencies
 * - backend/internal/polymarket/gamma
 * - backend/internal/repository
 *
 * @notes
 * - The real outcome is recorded next to the crowd consensus, never over it.
 * - Awards do not touch correct_predictions or accuracy.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/repository"
)

// ActualOutcomeBonus is paid per vote matching the settled market outcome.
const ActualOutcomeBonus = 10000

const (
	OutcomeStatusResolved        = "actual_resolved"
	OutcomeStatusResolvedNoVotes = "resolved_no_votes"
	OutcomeStatusUndecided       = "undecided"
	OutcomeStatusUnmatched       = "unmatched"
	OutcomeStatusSkipped         = "skipped"
	OutcomeStatusError           = "error"
)

type OutcomeService struct {
	repo   repository.Repository
	oracle OutcomeOracle
	locker *Locker

	lockTTL     time.Duration
	concurrency int
	now         func() time.Time
}

func NewOutcomeService(repo repository.Repository, oracle OutcomeOracle, locker *Locker, cfg config.EngineConfig) *OutcomeService {
	return &OutcomeService{
		repo:        repo,
		oracle:      oracle,
		locker:      locker,
		lockTTL:     cfg.SweepLockTTL,
		concurrency: max(cfg.SweepConcurrency, 1),
		now:         time.Now,
	}
}

type PollOutcomeResult struct {
	PollID        uuid.UUID `json:"poll_id"`
	Status        string    `json:"status"`
	DecidedLabel  string    `json:"decided_label,omitempty"`
	OutcomeLabel  string    `json:"outcome_option,omitempty"`
	CorrectVoters int       `json:"correct_voters"`
	TotalVoters   int       `json:"total_voters"`
	Error         string    `json:"error,omitempty"`
}

type OutcomeSweepResult struct {
	Resolved int                 `json:"resolved"`
	Results  []PollOutcomeResult `json:"results"`
}

// ReconcileOutcomes processes every resolved poll still waiting for its market outcome.
func (s *OutcomeService) ReconcileOutcomes(ctx context.Context) (*OutcomeSweepResult, error) {
	if s.oracle == nil {
		return nil, fmt.Errorf("%w: no outcome oracle configured", ErrAdapterUnavailable)
	}

	release, acquired := s.locker.Acquire(ctx, sweepLockKey(string(models.SweepKindReconcile)), s.lockTTL)
	if !acquired {
		return nil, fmt.Errorf("reconciliation sweep already running: %w", ErrConflict)
	}
	defer release()

	started := s.now()
	polls, err := s.repo.ListPollsAwaitingOutcome(ctx)
	if err != nil {
		return nil, storageError("list polls awaiting outcome", err)
	}

	results := make([]PollOutcomeResult, len(polls))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range polls {
		i := i
		g.Go(func() error {
			results[i] = s.reconcilePoll(ctx, &polls[i])
			return nil
		})
	}
	_ = g.Wait()

	resolved, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case OutcomeStatusResolved, OutcomeStatusResolvedNoVotes:
			resolved++
		case OutcomeStatusError:
			failed++
		}
	}
	recordSweep(ctx, s.repo, models.SweepKindReconcile, nil, started, len(results), failed, results)

	logger.Info("OutcomeService: reconciled %d of %d polls (%d failed)", resolved, len(results), failed)
	return &OutcomeSweepResult{Resolved: resolved, Results: results}, nil
}

func (s *OutcomeService) reconcilePoll(ctx context.Context, poll *models.Poll) PollOutcomeResult {
	res := PollOutcomeResult{PollID: poll.ID}

	event, err := s.fetchEvent(ctx, poll)
	if err != nil {
		logger.Error("OutcomeService: failed to fetch market for poll %s: %v", poll.ID, err)
		res.Status = OutcomeStatusError
		res.Error = "unable to fetch market"
		return res
	}

	label, decided := event.DecidedLabel()
	if !decided {
		res.Status = OutcomeStatusUndecided
		return res
	}
	res.DecidedLabel = label

	match, ok := MatchOptionLabel(poll.SortedOptions(), label)
	if !ok {
		logger.Warn("OutcomeService: no option of poll %s matches market outcome %q", poll.ID, label)
		res.Status = OutcomeStatusUnmatched
		return res
	}
	res.OutcomeLabel = match.Label

	now := s.now()
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		set, err := tx.SetActualOutcome(ctx, poll.ID, match.ID)
		if err != nil {
			return storageError("set actual outcome", err)
		}
		if !set {
			return errLostRace
		}

		votes, err := tx.ListVotesByPoll(ctx, poll.ID)
		if err != nil {
			return storageError("list votes", err)
		}
		res.TotalVoters = len(votes)
		res.CorrectVoters = 0
		for _, v := range votes {
			if v.OptionID == nil || *v.OptionID != match.ID {
				continue
			}
			res.CorrectVoters++
			if err := tx.AddVotePoints(ctx, v.ID, ActualOutcomeBonus); err != nil {
				return storageError("add vote points", err)
			}
			if err := tx.AwardUserPoints(ctx, v.UserID, ActualOutcomeBonus, false); err != nil {
				return storageError("award outcome bonus", err)
			}
			if err := tx.AppendPointsHistory(ctx, &models.PointsHistory{
				UserID:      v.UserID,
				Amount:      ActualOutcomeBonus,
				Type:        models.PointsTypeActualOutcomeBonus,
				Description: "Matched actual outcome",
				PollID:      &poll.ID,
				CreatedAt:   now,
			}); err != nil {
				return storageError("append points history", err)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errLostRace):
		res.Status = OutcomeStatusSkipped
		res.CorrectVoters, res.TotalVoters = 0, 0
	case err != nil:
		logger.Error("OutcomeService: failed to record outcome for poll %s: %v", poll.ID, err)
		res.Status = OutcomeStatusError
		res.Error = "unable to record outcome"
		res.CorrectVoters, res.TotalVoters = 0, 0
	case res.TotalVoters == 0:
		res.Status = OutcomeStatusResolvedNoVotes
	default:
		res.Status = OutcomeStatusResolved
		logger.Info("OutcomeService: poll %s settled on %q (%d of %d voters matched)", poll.ID, match.Label, res.CorrectVoters, res.TotalVoters)
	}
	return res
}

// fetchEvent prefers the event id and falls back to the slug.
func (s *OutcomeService) fetchEvent(ctx context.Context, poll *models.Poll) (*gamma.GammaEvent, error) {
	eventID, slug := poll.MarketRef()
	if eventID != "" {
		event, err := s.oracle.GetEvent(ctx, eventID)
		if err == nil || slug == "" || !errors.Is(err, gamma.ErrEventNotFound) {
			return event, err
		}
	}
	return s.oracle.GetEventBySlug(ctx, slug)
}
