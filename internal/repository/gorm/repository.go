/**
 * @description
 * PostgreSQL implementation of the resolution engine datastore.
 * Every counter change is a single UPDATE evaluated server-side so concurrent voters and
 * sweeps never lose increments.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/jackc/pgx/v5/pgconn: SQLSTATE inspection for retries and unique violations
 */

package gormrepository

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

const maxTxAttempts = 3

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InTx runs fn in a transaction, retrying on serialization failures and deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Store{db: tx})
		})
		if err == nil || !isRetryable(err) {
			return err
		}
		backoff := time.Duration(attempt*50+rand.Intn(50)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// --- Users & ledger --------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) GetUserByAuthUID(ctx context.Context, authUID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("auth_uid = ?", authUID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) UpdateUserAfterVote(ctx context.Context, u repository.UserVoteUpdate) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.UserID)
	if u.ExpectedLastVoted == "" {
		query = query.Where("last_voted_date IS NULL")
	} else {
		query = query.Where("last_voted_date = ?", u.ExpectedLastVoted)
	}

	res := query.Updates(map[string]interface{}{
		"swarm_points":      gorm.Expr("swarm_points + ?", u.Points),
		"total_predictions": gorm.Expr("total_predictions + 1"),
		"accuracy_score":    gorm.Expr("ROUND(correct_predictions::numeric / (total_predictions + 1), 4)"),
		"current_streak":    u.NewStreak,
		"max_streak":        gorm.Expr("GREATEST(max_streak, ?)", u.NewMaxStreak),
		"last_voted_date":   models.DateOf(u.VotedOn),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) AwardUserPoints(ctx context.Context, userID uuid.UUID, points int64, incrementCorrect bool) error {
	updates := map[string]interface{}{
		"swarm_points": gorm.Expr("swarm_points + ?", points),
	}
	if incrementCorrect {
		// SET expressions read the pre-update row, hence the explicit + 1.
		updates["correct_predictions"] = gorm.Expr("correct_predictions + 1")
		updates["accuracy_score"] = gorm.Expr(
			"CASE WHEN total_predictions > 0 THEN ROUND((correct_predictions + 1)::numeric / total_predictions, 4) ELSE 0 END")
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) AppendPointsHistory(ctx context.Context, entry *models.PointsHistory) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) SumPointsHistory(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).
		Model(&models.PointsHistory{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	return sum, err
}

func (s *Store) ListTopUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Order("swarm_points DESC, accuracy_score DESC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	return users, err
}

func (s *Store) CountUsersAbove(ctx context.Context, points int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("swarm_points > ?", points).Count(&count).Error
	return count, err
}

// --- Polls & options -------------------------------------------------------

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("display_order ASC")
}

func (s *Store) GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	var poll models.Poll
	if err := s.db.WithContext(ctx).Preload("Options", orderedOptions).Where("id = ?", id).First(&poll).Error; err != nil {
		return nil, translate(err)
	}
	return &poll, nil
}

func (s *Store) ListClosablePolls(ctx context.Context, now time.Time, forcePollID *uuid.UUID) ([]models.Poll, error) {
	query := s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Where("status = ?", models.PollStatusActive)
	if forcePollID != nil {
		query = query.Where("id = ?", *forcePollID)
	} else {
		query = query.Where("closes_at <= ?", now)
	}

	var polls []models.Poll
	err := query.Order("closes_at ASC").Find(&polls).Error
	return polls, err
}

func (s *Store) ListPollsAwaitingOutcome(ctx context.Context) ([]models.Poll, error) {
	var polls []models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Where("status = ?", models.PollStatusResolved).
		Where("actual_outcome_option_id IS NULL").
		Where("(COALESCE(polymarket_event_id, '') <> '' OR COALESCE(polymarket_slug, '') <> '')").
		Order("resolved_at ASC").
		Find(&polls).Error
	return polls, err
}

func (s *Store) IncrementOptionVoteCount(ctx context.Context, optionID uuid.UUID) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.PollOption{}).
		Where("id = ?", optionID).
		Update("vote_count", gorm.Expr("vote_count + 1")))
}

func (s *Store) IncrementPollTotalVotes(ctx context.Context, pollID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND status = ?", pollID, models.PollStatusActive).
		Update("total_votes", gorm.Expr("total_votes + 1"))
	return res.RowsAffected == 1, res.Error
}

func (s *Store) SetOptionVoteCount(ctx context.Context, optionID uuid.UUID, count int64) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.PollOption{}).
		Where("id = ?", optionID).
		Update("vote_count", count))
}

func (s *Store) SetPollTotalVotes(ctx context.Context, pollID uuid.UUID, total int64) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Update("total_votes", total))
}

func (s *Store) SetOptionResult(ctx context.Context, optionID uuid.UUID, percentage float64, isWinner bool) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.PollOption{}).
		Where("id = ?", optionID).
		Updates(map[string]interface{}{
			"vote_percentage": percentage,
			"is_winner":       isWinner,
		}))
}

// LockActivePoll takes SELECT ... FOR UPDATE on the poll row. Only meaningful inside InTx.
func (s *Store) LockActivePoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, bool, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND status = ?", pollID, models.PollStatusActive).
		First(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := orderedOptions(s.db.WithContext(ctx)).Where("poll_id = ?", pollID).Find(&poll.Options).Error; err != nil {
		return nil, false, err
	}
	return &poll, true, nil
}

func (s *Store) MarkPollClosed(ctx context.Context, pollID uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND status = ?", pollID, models.PollStatusActive).
		Updates(map[string]interface{}{
			"status":      models.PollStatusClosed,
			"resolved_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) MarkPollResolved(ctx context.Context, pollID, consensusOptionID uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND status = ?", pollID, models.PollStatusActive).
		Updates(map[string]interface{}{
			"status":                    models.PollStatusResolved,
			"crowd_consensus_option_id": consensusOptionID,
			"winning_option_id":         consensusOptionID,
			"resolved_at":               at,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) SetActualOutcome(ctx context.Context, pollID, optionID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND status = ? AND actual_outcome_option_id IS NULL", pollID, models.PollStatusResolved).
		Update("actual_outcome_option_id", optionID)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ActivatePoll(ctx context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND status = ?", pollID, models.PollStatusUpcoming).
		Updates(map[string]interface{}{
			"status":    models.PollStatusActive,
			"opens_at":  opensAt,
			"closes_at": closesAt,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ReopenPoll(ctx context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error) {
	reopened := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Poll{}).
			Where("id = ? AND status IN ?", pollID, []models.PollStatus{models.PollStatusClosed, models.PollStatusResolved}).
			Updates(map[string]interface{}{
				"status":                    models.PollStatusActive,
				"opens_at":                  opensAt,
				"closes_at":                 closesAt,
				"resolved_at":               gorm.Expr("NULL"),
				"winning_option_id":         gorm.Expr("NULL"),
				"crowd_consensus_option_id": gorm.Expr("NULL"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		reopened = true
		return tx.Model(&models.PollOption{}).
			Where("poll_id = ?", pollID).
			Updates(map[string]interface{}{
				"is_winner":       false,
				"vote_percentage": 0,
			}).Error
	})
	return reopened, err
}

func (s *Store) FinalizeElection(ctx context.Context, pollID uuid.UUID, electionID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND vocdoni_election_id = ?", pollID, models.ElectionPending).
		Update("vocdoni_election_id", electionID)
	return res.RowsAffected == 1, res.Error
}

// --- Votes -----------------------------------------------------------------

func (s *Store) HasVoted(ctx context.Context, userID, pollID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("user_id = ? AND poll_id = ?", userID, pollID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) CreateVote(ctx context.Context, vote *models.Vote) error {
	if err := s.db.WithContext(ctx).Create(vote).Error; err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListVotesByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	var votes []models.Vote
	err := s.db.WithContext(ctx).Where("poll_id = ?", pollID).Order("created_at ASC").Find(&votes).Error
	return votes, err
}

func (s *Store) SetVoteOption(ctx context.Context, voteID, optionID uuid.UUID) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("id = ?", voteID).
		Update("option_id", optionID))
}

func (s *Store) ScoreVote(ctx context.Context, voteID uuid.UUID, correct bool, bonus int64) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("id = ?", voteID).
		Updates(map[string]interface{}{
			"is_correct":        correct,
			"matched_consensus": correct,
			"points_earned":     gorm.Expr("points_earned + ?", bonus),
		}))
}

func (s *Store) AddVotePoints(ctx context.Context, voteID uuid.UUID, bonus int64) error {
	return s.expectOne(s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("id = ?", voteID).
		Update("points_earned", gorm.Expr("points_earned + ?", bonus)))
}

// --- Sweep audit -----------------------------------------------------------

func (s *Store) CreateSweepRun(ctx context.Context, run *models.SweepRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// --- helpers ---------------------------------------------------------------

func (s *Store) expectOne(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

var _ repository.Repository = (*Store)(nil)
