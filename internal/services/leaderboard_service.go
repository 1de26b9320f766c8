/**
 * @description
 * Leaderboard and ledger audit.
 * Ranks users by swarm_points from a Redis sorted set, falling back to Postgres when the
 * cache is cold, and checks that a user's balance agrees with their points history.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - backend/internal/repository
 *
 * @notes
 * - The sorted set is rebuilt periodically by the worker. Incremental bumps only apply
 *   to an existing set so a cold cache never serves a partial ranking.
 */

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

const (
	leaderboardKey     = "leaderboard:swarm_points"
	leaderboardTempKey = "leaderboard:swarm_points:rebuild"
	rebuildPageSize    = 500
	MaxLeaderboardPage = 100
)

type LeaderboardService struct {
	repo  repository.Repository
	redis *redis.Client
}

func NewLeaderboardService(repo repository.Repository, redisClient *redis.Client) *LeaderboardService {
	return &LeaderboardService{repo: repo, redis: redisClient}
}

type LeaderboardEntry struct {
	Rank          int64     `json:"rank"`
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username"`
	SwarmPoints   int64     `json:"swarm_points"`
	AccuracyScore float64   `json:"accuracy_score"`
	CurrentStreak int       `json:"current_streak"`
}

type UserRank struct {
	UserID      uuid.UUID `json:"user_id"`
	Rank        int64     `json:"rank"`
	SwarmPoints int64     `json:"swarm_points"`
}

type LedgerAudit struct {
	UserID      uuid.UUID `json:"user_id"`
	SwarmPoints int64     `json:"swarm_points"`
	LedgerTotal int64     `json:"ledger_total"`
	Drift       int64     `json:"drift"`
	Consistent  bool      `json:"consistent"`
}

// Bump adds points to a user's cached score. Safe on a nil receiver.
func (s *LeaderboardService) Bump(ctx context.Context, userID uuid.UUID, points int64) {
	if s == nil || s.redis == nil {
		return
	}
	exists, err := s.redis.Exists(ctx, leaderboardKey).Result()
	if err != nil || exists == 0 {
		return
	}
	if err := s.redis.ZIncrBy(ctx, leaderboardKey, float64(points), userID.String()).Err(); err != nil {
		logger.Warn("LeaderboardService: failed to bump %s: %v", userID, err)
	}
}

// Top returns one page of the leaderboard
func (s *LeaderboardService) Top(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > MaxLeaderboardPage {
		limit = MaxLeaderboardPage
	}
	if offset < 0 {
		offset = 0
	}

	if entries, ok := s.topFromCache(ctx, limit, offset); ok {
		return entries, nil
	}

	users, err := s.repo.ListTopUsers(ctx, limit, offset)
	if err != nil {
		return nil, storageError("list top users", err)
	}
	entries := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, toEntry(int64(offset+i+1), &u))
	}
	return entries, nil
}

func (s *LeaderboardService) topFromCache(ctx context.Context, limit, offset int) ([]LeaderboardEntry, bool) {
	if s.redis == nil {
		return nil, false
	}
	members, err := s.redis.ZRevRangeWithScores(ctx, leaderboardKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		logger.Warn("LeaderboardService: cache read failed, using database: %v", err)
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}

	entries := make([]LeaderboardEntry, 0, len(members))
	for i, m := range members {
		idStr, _ := m.Member.(string)
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		user, err := s.repo.GetUser(ctx, id)
		if err != nil {
			continue
		}
		entry := toEntry(int64(offset+i+1), user)
		entry.SwarmPoints = int64(m.Score)
		entries = append(entries, entry)
	}
	return entries, true
}

// Rank returns a user's 1-based position
func (s *LeaderboardService) Rank(ctx context.Context, userID uuid.UUID) (*UserRank, error) {
	if s.redis != nil {
		pos, err := s.redis.ZRevRank(ctx, leaderboardKey, userID.String()).Result()
		if err == nil {
			score, scoreErr := s.redis.ZScore(ctx, leaderboardKey, userID.String()).Result()
			if scoreErr == nil {
				return &UserRank{UserID: userID, Rank: pos + 1, SwarmPoints: int64(score)}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.Warn("LeaderboardService: rank lookup failed, using database: %v", err)
		}
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, storageError("load user", err)
	}
	above, err := s.repo.CountUsersAbove(ctx, user.SwarmPoints)
	if err != nil {
		return nil, storageError("count users above", err)
	}
	return &UserRank{UserID: userID, Rank: above + 1, SwarmPoints: user.SwarmPoints}, nil
}

// Rebuild repopulates the sorted set from the users table and swaps it in atomically
func (s *LeaderboardService) Rebuild(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("%w: redis not configured", ErrAdapterUnavailable)
	}
	if err := s.redis.Del(ctx, leaderboardTempKey).Err(); err != nil {
		return err
	}

	total := 0
	for offset := 0; ; offset += rebuildPageSize {
		users, err := s.repo.ListTopUsers(ctx, rebuildPageSize, offset)
		if err != nil {
			return storageError("list users for leaderboard", err)
		}
		if len(users) == 0 {
			break
		}
		members := make([]redis.Z, 0, len(users))
		for _, u := range users {
			members = append(members, redis.Z{Score: float64(u.SwarmPoints), Member: u.ID.String()})
		}
		if err := s.redis.ZAdd(ctx, leaderboardTempKey, members...).Err(); err != nil {
			return err
		}
		total += len(users)
		if len(users) < rebuildPageSize {
			break
		}
	}

	if total == 0 {
		return s.redis.Del(ctx, leaderboardKey).Err()
	}
	if err := s.redis.Rename(ctx, leaderboardTempKey, leaderboardKey).Err(); err != nil {
		return err
	}
	logger.Info("LeaderboardService: rebuilt leaderboard with %d users", total)
	return nil
}

// AuditLedger compares a user's balance with the sum of their points history
func (s *LeaderboardService) AuditLedger(ctx context.Context, userID uuid.UUID) (*LedgerAudit, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, storageError("load user", err)
	}
	sum, err := s.repo.SumPointsHistory(ctx, userID)
	if err != nil {
		return nil, storageError("sum points history", err)
	}
	return &LedgerAudit{
		UserID:      userID,
		SwarmPoints: user.SwarmPoints,
		LedgerTotal: sum,
		Drift:       user.SwarmPoints - sum,
		Consistent:  user.SwarmPoints == sum,
	}, nil
}

func toEntry(rank int64, u *models.User) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:          rank,
		UserID:        u.ID,
		Username:      u.Username,
		SwarmPoints:   u.SwarmPoints,
		AccuracyScore: u.AccuracyScore,
		CurrentStreak: u.CurrentStreak,
	}
}
