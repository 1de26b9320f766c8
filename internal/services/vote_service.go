/**
 * @description
 * Vote submission.
 * Records one vote per user per poll, casts anonymous ballots server-side when the client
 * did not, and awards participation points with streak bookkeeping.
 *
 * @dependencies
 * - backend/internal/repository
 * - github.com/redis/go-redis/v9: per-(user, poll) guard and receipt cache
 *
 * @notes
 * - The votes (user_id, poll_id) unique index is the authority on duplicates; the Redis guard
 *   only keeps concurrent retries from casting two ballots.
 * - Anonymous polls never store the chosen option at submit time.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
	"github.com/swarmbet/backend/internal/vocdoni"
)

const (
	maxReceiptLength = 200
	maxStreakRetries = 3
)

type VoteService struct {
	repo        repository.Repository
	redis       *redis.Client
	locker      *Locker
	caster      BallotCaster
	leaderboard *LeaderboardService

	guardTTL   time.Duration
	receiptTTL time.Duration
	now        func() time.Time
}

func NewVoteService(repo repository.Repository, redisClient *redis.Client, caster BallotCaster, leaderboard *LeaderboardService, cfg config.EngineConfig) *VoteService {
	return &VoteService{
		repo:        repo,
		redis:       redisClient,
		locker:      NewLocker(redisClient),
		caster:      caster,
		leaderboard: leaderboard,
		guardTTL:    cfg.VoteGuardTTL,
		receiptTTL:  cfg.BallotReceiptCacheTTL,
		now:         time.Now,
	}
}

// SubmitVoteInput is the caller's request. OptionID and ReceiptID may be empty.
type SubmitVoteInput struct {
	AuthUID    string
	PollID     string
	OptionID   string
	Confidence string
	ReceiptID  string
}

type SubmitVoteResult struct {
	PointsEarned  int64 `json:"points_earned"`
	NewBalance    int64 `json:"new_balance"`
	CurrentStreak int   `json:"current_streak"`
	MaxStreak     int   `json:"max_streak"`
}

type parsedVote struct {
	pollID     uuid.UUID
	optionID   *uuid.UUID
	confidence models.Confidence
	receipt    string
}

func parseVoteInput(in SubmitVoteInput) (*parsedVote, error) {
	if in.AuthUID == "" {
		return nil, ErrUnauthorized
	}
	pollID, err := uuid.Parse(in.PollID)
	if err != nil {
		return nil, validationError("invalid poll id")
	}
	out := &parsedVote{pollID: pollID, receipt: in.ReceiptID}
	if in.OptionID != "" {
		optionID, err := uuid.Parse(in.OptionID)
		if err != nil {
			return nil, validationError("invalid option id")
		}
		out.optionID = &optionID
	}
	out.confidence = models.Confidence(in.Confidence)
	if !out.confidence.Valid() {
		return nil, validationError("invalid confidence value")
	}
	if len(in.ReceiptID) > maxReceiptLength {
		return nil, validationError("vote reference exceeds %d characters", maxReceiptLength)
	}
	return out, nil
}

// SubmitVote records a vote and awards participation points.
func (s *VoteService) SubmitVote(ctx context.Context, in SubmitVoteInput) (*SubmitVoteResult, error) {
	req, err := parseVoteInput(in)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByAuthUID(ctx, in.AuthUID)
	if err != nil {
		return nil, storageError("load user", err)
	}
	poll, err := s.repo.GetPoll(ctx, req.pollID)
	if err != nil {
		return nil, storageError("load poll", err)
	}

	ballot := poll.Ballot()
	var option *models.PollOption
	if req.optionID != nil {
		for i := range poll.Options {
			if poll.Options[i].ID == *req.optionID {
				option = &poll.Options[i]
				break
			}
		}
		if option == nil {
			return nil, fmt.Errorf("option does not belong to poll: %w", ErrNotFound)
		}
	} else if !ballot.Anonymous() {
		return nil, validationError("option id is required for public polls")
	}

	now := s.now()
	if !poll.AcceptsVotesAt(now) {
		return nil, ErrNotActive
	}

	release, acquired := s.locker.Acquire(ctx, voteLockKey(poll.ID, user.ID), s.guardTTL)
	if !acquired {
		return nil, fmt.Errorf("vote already in progress: %w", ErrConflict)
	}
	defer release()

	voted, err := s.repo.HasVoted(ctx, user.ID, poll.ID)
	if err != nil {
		return nil, storageError("check existing vote", err)
	}
	if voted {
		return nil, fmt.Errorf("already voted on this poll: %w", ErrConflict)
	}

	receipt := req.receipt
	if receipt == "" && ballot.Kind == models.BallotAnonymous && option != nil {
		receipt = s.castBallot(ctx, poll, ballot, user, option)
	}

	points := int64(models.DefaultPointsForVoting)
	vote := &models.Vote{
		UserID:       user.ID,
		PollID:       poll.ID,
		Confidence:   req.confidence,
		PointsEarned: points,
		CreatedAt:    now,
	}
	if !ballot.Anonymous() {
		vote.OptionID = req.optionID
	}
	if receipt != "" {
		vote.VocdoniVoteID = &receipt
	}

	var result *SubmitVoteResult
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		// Holding the poll row first orders this vote against a concurrent close.
		stillActive, err := tx.IncrementPollTotalVotes(ctx, poll.ID)
		if err != nil {
			return storageError("increment poll total", err)
		}
		if !stillActive {
			return fmt.Errorf("poll closed while voting: %w", ErrNotActive)
		}
		if err := tx.CreateVote(ctx, vote); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("already voted on this poll: %w", ErrConflict)
			}
			return storageError("insert vote", err)
		}
		if !ballot.Anonymous() {
			if err := tx.IncrementOptionVoteCount(ctx, option.ID); err != nil {
				return storageError("increment option count", err)
			}
		}

		updated, err := s.applyVoteToUser(ctx, tx, user, points, now)
		if err != nil {
			return err
		}

		if err := tx.AppendPointsHistory(ctx, &models.PointsHistory{
			UserID:      user.ID,
			Amount:      points,
			Type:        models.PointsTypeVote,
			Description: "Voted on poll",
			PollID:      &poll.ID,
			CreatedAt:   now,
		}); err != nil {
			return storageError("append points history", err)
		}

		result = &SubmitVoteResult{
			PointsEarned:  points,
			NewBalance:    updated.SwarmPoints,
			CurrentStreak: updated.CurrentStreak,
			MaxStreak:     updated.MaxStreak,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.leaderboard.Bump(ctx, user.ID, points)
	logger.Info("VoteService: user %s voted on poll %s (anonymous=%v)", user.ID, poll.ID, ballot.Anonymous())
	return result, nil
}

// applyVoteToUser performs the streak compare-and-set, re-reading the user when a
// concurrent vote moved last_voted_date underneath us.
func (s *VoteService) applyVoteToUser(ctx context.Context, tx repository.Repository, user *models.User, points int64, now time.Time) (*models.User, error) {
	current := user
	for attempt := 0; attempt < maxStreakRetries; attempt++ {
		streak, maxStreak := NextStreak(current.LastVotedDay(), now, current.CurrentStreak, current.MaxStreak)
		ok, err := tx.UpdateUserAfterVote(ctx, repository.UserVoteUpdate{
			UserID:            current.ID,
			Points:            points,
			NewStreak:         streak,
			NewMaxStreak:      maxStreak,
			VotedOn:           now,
			ExpectedLastVoted: current.LastVotedDay(),
		})
		if err != nil {
			return nil, storageError("update user after vote", err)
		}
		if ok {
			updated, err := tx.GetUser(ctx, current.ID)
			if err != nil {
				return nil, storageError("reload user", err)
			}
			return updated, nil
		}

		current, err = tx.GetUser(ctx, user.ID)
		if err != nil {
			return nil, storageError("reload user", err)
		}
	}
	return nil, fmt.Errorf("%w: streak update kept conflicting for user %s", ErrStorage, user.ID)
}

// castBallot returns a receipt for the voter's ballot, reusing a cached one from a
// previous attempt. Failures are logged and yield "".
func (s *VoteService) castBallot(ctx context.Context, poll *models.Poll, ballot models.BallotMode, user *models.User, option *models.PollOption) string {
	cacheKey := receiptCacheKey(poll.ID, user.ID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return cached
		} else if err != nil && !errors.Is(err, redis.Nil) {
			logger.Warn("VoteService: receipt cache read failed: %v", err)
		}
	}

	if s.caster == nil {
		logger.Warn("VoteService: no ballot caster configured, recording poll %s vote without receipt", poll.ID)
		return ""
	}

	receipt, err := s.caster.CastBallot(ctx, ballot.ElectionID, user.NullifierHash, option.BallotIndex())
	if err != nil {
		voter := "unknown"
		if addr, addrErr := vocdoni.VoterAddress(user.NullifierHash); addrErr == nil {
			voter = addr.Hex()
		}
		logger.Error("VoteService: ballot cast failed for poll %s voter %s (non-blocking): %v", poll.ID, voter, err)
		return ""
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, receipt, s.receiptTTL).Err(); err != nil {
			logger.Warn("VoteService: receipt cache write failed: %v", err)
		}
	}
	return receipt
}
