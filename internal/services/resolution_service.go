/**
 * @description
 * Closing sweep of the poll resolution engine.
 * Finds active polls past their deadline (or one forced poll), settles the tally,
 * computes the crowd consensus and pays the consensus bonus.
 *
 * @dependencies
 * - backend/internal/repository
 * - golang.org/x/sync/errgroup: bounded per-poll and per-receipt parallelism
 *
 * @notes
 * - Each poll commits in one transaction conditional on status still being 'active',
 *   so overlapping sweeps can never pay a bonus twice.
 * - Anonymous tallies come from the tally adapter. When it is unreachable the stored
 *   counts are used and the sweep still completes.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

const (
	CloseStatusResolved      = "resolved"
	CloseStatusClosedNoVotes = "closed_no_votes"
	CloseStatusSkipped       = "skipped"
	CloseStatusError         = "error"
)

type ResolutionService struct {
	repo   repository.Repository
	tally  TallyAdapter
	locker *Locker

	lockTTL            time.Duration
	concurrency        int
	receiptConcurrency int
	now                func() time.Time
}

func NewResolutionService(repo repository.Repository, tally TallyAdapter, locker *Locker, cfg config.EngineConfig) *ResolutionService {
	return &ResolutionService{
		repo:               repo,
		tally:              tally,
		locker:             locker,
		lockTTL:            cfg.SweepLockTTL,
		concurrency:        max(cfg.SweepConcurrency, 1),
		receiptConcurrency: max(cfg.ReceiptConcurrency, 1),
		now:                time.Now,
	}
}

// TallyDiscrepancy is reported when the anonymous tally and the stored receipts disagree.
type TallyDiscrepancy struct {
	AdapterTotal       int64 `json:"adapter_total"`
	ReceiptVotes       int   `json:"receipt_votes"`
	ReconciledReceipts int   `json:"reconciled_receipts"`
}

type PollCloseResult struct {
	PollID           uuid.UUID         `json:"poll_id"`
	Status           string            `json:"status"`
	Anonymous        bool              `json:"anonymous"`
	ConsensusLabel   string            `json:"consensus_option,omitempty"`
	TotalVotes       int64             `json:"total_votes"`
	CorrectVoters    int               `json:"correct_voters"`
	TallyDiscrepancy *TallyDiscrepancy `json:"tally_discrepancy,omitempty"`
	Error            string            `json:"error,omitempty"`
}

type CloseSweepResult struct {
	Closed  int               `json:"closed"`
	Results []PollCloseResult `json:"results"`
}

// CloseDuePolls closes every active poll whose deadline passed. With forcePollID set,
// only that poll is closed and its deadline is ignored.
func (s *ResolutionService) CloseDuePolls(ctx context.Context, forcePollID *uuid.UUID) (*CloseSweepResult, error) {
	release, acquired := s.locker.Acquire(ctx, sweepLockKey(string(models.SweepKindClose)), s.lockTTL)
	if !acquired {
		return nil, fmt.Errorf("closing sweep already running: %w", ErrConflict)
	}
	defer release()

	started := s.now()
	polls, err := s.repo.ListClosablePolls(ctx, started, forcePollID)
	if err != nil {
		return nil, storageError("list closable polls", err)
	}
	if forcePollID != nil && len(polls) == 0 {
		if _, err := s.repo.GetPoll(ctx, *forcePollID); err != nil {
			return nil, storageError("load forced poll", err)
		}
		return nil, ErrNotActive
	}

	results := make([]PollCloseResult, len(polls))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range polls {
		i := i
		g.Go(func() error {
			results[i] = s.closePoll(ctx, &polls[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Status == CloseStatusError {
			failed++
		}
	}
	recordSweep(ctx, s.repo, models.SweepKindClose, forcePollID, started, len(results), failed, results)

	logger.Info("ResolutionService: closing sweep processed %d polls (%d failed)", len(results), failed)
	return &CloseSweepResult{Closed: len(results), Results: results}, nil
}

// closePoll never returns an error; failures are folded into the result row.
func (s *ResolutionService) closePoll(ctx context.Context, poll *models.Poll) PollCloseResult {
	ballot := poll.Ballot()
	options := poll.SortedOptions()
	res := PollCloseResult{PollID: poll.ID, Anonymous: ballot.Anonymous(), TotalVotes: poll.TotalVotes}

	counts := make(map[uuid.UUID]int64, len(options))
	tallied := false
	var adapterTotal int64
	reconciled := map[uuid.UUID]uuid.UUID{}
	if ballot.Kind == models.BallotAnonymous {
		adapterTotal, tallied = s.applyAdapterTally(ctx, poll, ballot.ElectionID, options, counts)

		votes, err := s.repo.ListVotesByPoll(ctx, poll.ID)
		if err != nil {
			return failResult(res, poll.ID, err)
		}
		var receiptVotes int
		reconciled, receiptVotes = s.reconcileReceipts(ctx, ballot.ElectionID, options, votes)

		if tallied && (adapterTotal != int64(receiptVotes) || receiptVotes != len(reconciled)) {
			res.TallyDiscrepancy = &TallyDiscrepancy{
				AdapterTotal:       adapterTotal,
				ReceiptVotes:       receiptVotes,
				ReconciledReceipts: len(reconciled),
			}
			logger.Warn("ResolutionService: tally discrepancy on poll %s: adapter=%d receipts=%d reconciled=%d",
				poll.ID, adapterTotal, receiptVotes, len(reconciled))
		}
	} else if ballot.Kind == models.BallotAnonymousPending {
		logger.Warn("ResolutionService: poll %s closing with a pending election, no anonymous tally", poll.ID)
	}

	now := s.now()
	bonus := poll.ConsensusPoints()
	var consensus *models.PollOption
	correctVoters := 0
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		// Votes committed before this lock are counted; later ones see a closed poll.
		current, active, err := tx.LockActivePoll(ctx, poll.ID)
		if err != nil {
			return storageError("lock poll", err)
		}
		if !active {
			return errLostRace
		}

		if tallied {
			res.TotalVotes = adapterTotal
			if err := persistTally(ctx, tx, poll.ID, options, counts, adapterTotal); err != nil {
				return err
			}
		} else {
			res.TotalVotes = current.TotalVotes
			for _, o := range current.Options {
				counts[o.ID] = o.VoteCount
			}
		}
		for voteID, optionID := range reconciled {
			if err := tx.SetVoteOption(ctx, voteID, optionID); err != nil {
				return storageError("set reconciled vote option", err)
			}
		}

		picked, ok := PickConsensus(options, counts)
		if !ok {
			closed, err := tx.MarkPollClosed(ctx, poll.ID, now)
			if err != nil {
				return storageError("mark poll closed", err)
			}
			if !closed {
				return errLostRace
			}
			return nil
		}
		consensus = picked

		resolved, err := tx.MarkPollResolved(ctx, poll.ID, consensus.ID, now)
		if err != nil {
			return storageError("mark poll resolved", err)
		}
		if !resolved {
			return errLostRace
		}
		for _, o := range options {
			pct := VotePercentage(counts[o.ID], res.TotalVotes)
			if err := tx.SetOptionResult(ctx, o.ID, pct, o.ID == consensus.ID); err != nil {
				return storageError("set option result", err)
			}
		}

		votes, err := tx.ListVotesByPoll(ctx, poll.ID)
		if err != nil {
			return storageError("list votes", err)
		}
		correctVoters = 0
		for _, v := range votes {
			optionID := v.OptionID
			if id, ok := reconciled[v.ID]; ok {
				optionID = &id
			}
			correct := optionID != nil && *optionID == consensus.ID
			award := int64(0)
			if correct {
				award = bonus
			}
			if err := tx.ScoreVote(ctx, v.ID, correct, award); err != nil {
				return storageError("score vote", err)
			}
			if !correct {
				continue
			}
			correctVoters++
			if err := tx.AwardUserPoints(ctx, v.UserID, bonus, true); err != nil {
				return storageError("award consensus bonus", err)
			}
			if err := tx.AppendPointsHistory(ctx, &models.PointsHistory{
				UserID:      v.UserID,
				Amount:      bonus,
				Type:        models.PointsTypeConsensusBonus,
				Description: "Matched crowd consensus on: " + poll.Question,
				PollID:      &poll.ID,
				CreatedAt:   now,
			}); err != nil {
				return storageError("append points history", err)
			}
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		res.Status = CloseStatusSkipped
		return res
	}
	if err != nil {
		return failResult(res, poll.ID, err)
	}

	if consensus == nil {
		res.Status = CloseStatusClosedNoVotes
		return res
	}
	res.Status = CloseStatusResolved
	res.ConsensusLabel = consensus.Label
	res.CorrectVoters = correctVoters
	logger.Info("ResolutionService: poll %s resolved to %q (%d correct voters)", poll.ID, consensus.Label, correctVoters)
	return res
}

// applyAdapterTally overwrites counts with the adapter's result. Returns the poll total
// and whether a tally was obtained.
func (s *ResolutionService) applyAdapterTally(ctx context.Context, poll *models.Poll, electionID string, options []models.PollOption, counts map[uuid.UUID]int64) (int64, bool) {
	if s.tally == nil {
		logger.Warn("ResolutionService: no tally adapter, poll %s uses stored counts", poll.ID)
		return 0, false
	}
	result, err := s.tally.FetchElectionResult(ctx, electionID)
	if err != nil {
		logger.Error("ResolutionService: failed to fetch election %s for poll %s: %v", electionID, poll.ID, err)
		return 0, false
	}
	if len(result.Counts) == 0 {
		return 0, false
	}

	for i, o := range options {
		counts[o.ID] = 0
		if i < len(result.Counts) {
			counts[o.ID] = result.Counts[i]
		}
	}
	return result.Total(), true
}

// reconcileReceipts maps receipt-bearing votes back to options. Returns voteID -> optionID
// for every receipt that decoded to an in-range choice, and the number of votes with a receipt.
func (s *ResolutionService) reconcileReceipts(ctx context.Context, electionID string, options []models.PollOption, votes []models.Vote) (map[uuid.UUID]uuid.UUID, int) {
	out := make(map[uuid.UUID]uuid.UUID)
	var withReceipt []models.Vote
	for _, v := range votes {
		if v.Receipt() != "" {
			withReceipt = append(withReceipt, v)
		}
	}
	if len(withReceipt) == 0 || s.tally == nil {
		return out, len(withReceipt)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.receiptConcurrency)
	for _, v := range withReceipt {
		v := v
		g.Go(func() error {
			receipt, err := s.tally.VerifyBallotReceipt(ctx, electionID, v.Receipt())
			if err != nil {
				logger.Warn("ResolutionService: failed to verify receipt for vote %s: %v", v.ID, err)
				return nil
			}
			if !receipt.Decoded || receipt.Choice < 0 || receipt.Choice >= len(options) {
				return nil
			}
			mu.Lock()
			out[v.ID] = options[receipt.Choice].ID
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, len(withReceipt)
}

func persistTally(ctx context.Context, tx repository.Repository, pollID uuid.UUID, options []models.PollOption, counts map[uuid.UUID]int64, total int64) error {
	for _, o := range options {
		if err := tx.SetOptionVoteCount(ctx, o.ID, counts[o.ID]); err != nil {
			return storageError("set option vote count", err)
		}
	}
	if err := tx.SetPollTotalVotes(ctx, pollID, total); err != nil {
		return storageError("set poll total votes", err)
	}
	return nil
}

func failResult(res PollCloseResult, pollID uuid.UUID, err error) PollCloseResult {
	logger.Error("ResolutionService: failed to close poll %s: %v", pollID, err)
	res.Status = CloseStatusError
	res.Error = "unable to close poll"
	return res
}
