/**
 * @description
 * In-memory implementation of the resolution engine datastore.
 * Mirrors the PostgreSQL semantics (unique (user, poll) votes, conditional status
 * transitions, atomic counters) so engine tests and STORE_DRIVER=memory local runs
 * behave exactly like production.
 *
 * @notes
 * - Transactions are serialized and roll back by restoring a snapshot.
 * - Rows are copied on the way in and out; callers never alias stored state.
 */

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
)

type state struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users     map[uuid.UUID]models.User
	polls     map[uuid.UUID]models.Poll
	options   map[uuid.UUID]models.PollOption
	votes     map[uuid.UUID]models.Vote
	voteIndex map[[2]uuid.UUID]uuid.UUID
	history   []models.PointsHistory
	sweepRuns []models.SweepRun
}

func (st *state) snapshot() *state {
	cp := &state{
		users:     make(map[uuid.UUID]models.User, len(st.users)),
		polls:     make(map[uuid.UUID]models.Poll, len(st.polls)),
		options:   make(map[uuid.UUID]models.PollOption, len(st.options)),
		votes:     make(map[uuid.UUID]models.Vote, len(st.votes)),
		voteIndex: make(map[[2]uuid.UUID]uuid.UUID, len(st.voteIndex)),
		history:   append([]models.PointsHistory(nil), st.history...),
		sweepRuns: append([]models.SweepRun(nil), st.sweepRuns...),
	}
	for k, v := range st.users {
		cp.users[k] = v
	}
	for k, v := range st.polls {
		cp.polls[k] = v
	}
	for k, v := range st.options {
		cp.options[k] = v
	}
	for k, v := range st.votes {
		cp.votes[k] = v
	}
	for k, v := range st.voteIndex {
		cp.voteIndex[k] = v
	}
	return cp
}

func (st *state) restore(from *state) {
	st.users = from.users
	st.polls = from.polls
	st.options = from.options
	st.votes = from.votes
	st.voteIndex = from.voteIndex
	st.history = from.history
	st.sweepRuns = from.sweepRuns
}

// Store is safe for concurrent use.
type Store struct {
	st   *state
	inTx bool
	now  func() time.Time
}

func New() *Store {
	return &Store{
		st: &state{
			users:     make(map[uuid.UUID]models.User),
			polls:     make(map[uuid.UUID]models.Poll),
			options:   make(map[uuid.UUID]models.PollOption),
			votes:     make(map[uuid.UUID]models.Vote),
			voteIndex: make(map[[2]uuid.UUID]uuid.UUID),
		},
		now: time.Now,
	}
}

// lock waits for any running transaction unless called from inside one.
func (s *Store) lock() func() {
	if !s.inTx {
		s.st.txMu.Lock()
	}
	s.st.mu.Lock()
	return func() {
		s.st.mu.Unlock()
		if !s.inTx {
			s.st.txMu.Unlock()
		}
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	s.st.mu.Lock()
	snap := s.st.snapshot()
	s.st.mu.Unlock()

	tx := &Store{st: s.st, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		s.st.mu.Lock()
		s.st.restore(snap)
		s.st.mu.Unlock()
		return err
	}
	return nil
}

// --- Seeding ---------------------------------------------------------------

// CreateUser inserts a user, enforcing auth_uid uniqueness.
func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.AuthUID == user.AuthUID {
			return repository.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.UpdatedAt = user.CreatedAt
	s.st.users[user.ID] = *user
	return nil
}

// CreatePoll inserts a poll together with its options.
func (s *Store) CreatePoll(_ context.Context, poll *models.Poll) error {
	defer s.lock()()
	if poll.ID == uuid.Nil {
		poll.ID = uuid.New()
	}
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = s.now()
	}
	seen := make(map[int]bool, len(poll.Options))
	for i := range poll.Options {
		opt := &poll.Options[i]
		if seen[opt.DisplayOrder] {
			return repository.ErrDuplicate
		}
		seen[opt.DisplayOrder] = true
		if opt.ID == uuid.Nil {
			opt.ID = uuid.New()
		}
		opt.PollID = poll.ID
		s.st.options[opt.ID] = *opt
	}
	row := *poll
	row.Options = nil
	s.st.polls[poll.ID] = row
	return nil
}

// ListPointsHistory returns a user's ledger entries in insertion order.
func (s *Store) ListPointsHistory(_ context.Context, userID uuid.UUID) []models.PointsHistory {
	defer s.lock()()
	var out []models.PointsHistory
	for _, h := range s.st.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out
}

// SweepRuns returns every recorded sweep run.
func (s *Store) SweepRuns() []models.SweepRun {
	defer s.lock()()
	return append([]models.SweepRun(nil), s.st.sweepRuns...)
}

// --- Users & ledger --------------------------------------------------------

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer s.lock()()
	u, ok := s.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByAuthUID(_ context.Context, authUID string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.AuthUID == authUID {
			out := u
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateUserAfterVote(_ context.Context, upd repository.UserVoteUpdate) (bool, error) {
	defer s.lock()()
	u, ok := s.st.users[upd.UserID]
	if !ok {
		return false, nil
	}
	if u.LastVotedDay() != upd.ExpectedLastVoted {
		return false, nil
	}

	u.SwarmPoints += upd.Points
	u.TotalPredictions++
	u.AccuracyScore = accuracy(u.CorrectPredictions, u.TotalPredictions)
	u.CurrentStreak = upd.NewStreak
	if upd.NewMaxStreak > u.MaxStreak {
		u.MaxStreak = upd.NewMaxStreak
	}
	day := models.DateOf(upd.VotedOn)
	u.LastVotedDate = &day
	u.UpdatedAt = s.now()
	s.st.users[u.ID] = u
	return true, nil
}

func (s *Store) AwardUserPoints(_ context.Context, userID uuid.UUID, points int64, incrementCorrect bool) error {
	defer s.lock()()
	u, ok := s.st.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.SwarmPoints += points
	if incrementCorrect {
		u.CorrectPredictions++
		u.AccuracyScore = accuracy(u.CorrectPredictions, u.TotalPredictions)
	}
	u.UpdatedAt = s.now()
	s.st.users[userID] = u
	return nil
}

func (s *Store) AppendPointsHistory(_ context.Context, entry *models.PointsHistory) error {
	defer s.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.st.history = append(s.st.history, *entry)
	return nil
}

func (s *Store) SumPointsHistory(_ context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock()()
	var sum int64
	for _, h := range s.st.history {
		if h.UserID == userID {
			sum += h.Amount
		}
	}
	return sum, nil
}

func (s *Store) ListTopUsers(_ context.Context, limit, offset int) ([]models.User, error) {
	defer s.lock()()
	users := make([]models.User, 0, len(s.st.users))
	for _, u := range s.st.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].SwarmPoints != users[j].SwarmPoints {
			return users[i].SwarmPoints > users[j].SwarmPoints
		}
		if users[i].AccuracyScore != users[j].AccuracyScore {
			return users[i].AccuracyScore > users[j].AccuracyScore
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	if offset >= len(users) {
		return []models.User{}, nil
	}
	users = users[offset:]
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (s *Store) CountUsersAbove(_ context.Context, points int64) (int64, error) {
	defer s.lock()()
	var n int64
	for _, u := range s.st.users {
		if u.SwarmPoints > points {
			n++
		}
	}
	return n, nil
}

// --- Polls & options -------------------------------------------------------

func (s *Store) assemble(p models.Poll) models.Poll {
	p.Options = nil
	for _, o := range s.st.options {
		if o.PollID == p.ID {
			p.Options = append(p.Options, o)
		}
	}
	sort.Slice(p.Options, func(i, j int) bool {
		return p.Options[i].DisplayOrder < p.Options[j].DisplayOrder
	})
	return p
}

func (s *Store) GetPoll(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	defer s.lock()()
	p, ok := s.st.polls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := s.assemble(p)
	return &out, nil
}

func (s *Store) ListClosablePolls(_ context.Context, now time.Time, forcePollID *uuid.UUID) ([]models.Poll, error) {
	defer s.lock()()
	var out []models.Poll
	for _, p := range s.st.polls {
		if p.Status != models.PollStatusActive {
			continue
		}
		if forcePollID != nil {
			if p.ID != *forcePollID {
				continue
			}
		} else if p.ClosesAt.After(now) {
			continue
		}
		out = append(out, s.assemble(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	return out, nil
}

func (s *Store) ListPollsAwaitingOutcome(_ context.Context) ([]models.Poll, error) {
	defer s.lock()()
	var out []models.Poll
	for _, p := range s.st.polls {
		if p.Status != models.PollStatusResolved || p.ActualOutcomeOptionID != nil {
			continue
		}
		if eventID, slug := p.MarketRef(); eventID == "" && slug == "" {
			continue
		}
		out = append(out, s.assemble(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return resolvedAt(out[i]).Before(resolvedAt(out[j]))
	})
	return out, nil
}

func (s *Store) IncrementOptionVoteCount(_ context.Context, optionID uuid.UUID) error {
	defer s.lock()()
	o, ok := s.st.options[optionID]
	if !ok {
		return repository.ErrNotFound
	}
	o.VoteCount++
	s.st.options[optionID] = o
	return nil
}

func (s *Store) IncrementPollTotalVotes(_ context.Context, pollID uuid.UUID) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusActive {
		return false, nil
	}
	p.TotalVotes++
	s.st.polls[pollID] = p
	return true, nil
}

func (s *Store) SetOptionVoteCount(_ context.Context, optionID uuid.UUID, count int64) error {
	defer s.lock()()
	o, ok := s.st.options[optionID]
	if !ok {
		return repository.ErrNotFound
	}
	o.VoteCount = count
	s.st.options[optionID] = o
	return nil
}

func (s *Store) SetPollTotalVotes(_ context.Context, pollID uuid.UUID, total int64) error {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok {
		return repository.ErrNotFound
	}
	p.TotalVotes = total
	s.st.polls[pollID] = p
	return nil
}

func (s *Store) SetOptionResult(_ context.Context, optionID uuid.UUID, percentage float64, isWinner bool) error {
	defer s.lock()()
	o, ok := s.st.options[optionID]
	if !ok {
		return repository.ErrNotFound
	}
	o.VotePercentage = percentage
	o.IsWinner = isWinner
	s.st.options[optionID] = o
	return nil
}

// LockActivePoll needs no row lock here: transactions are already serialized.
func (s *Store) LockActivePoll(_ context.Context, pollID uuid.UUID) (*models.Poll, bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusActive {
		return nil, false, nil
	}
	out := s.assemble(p)
	return &out, true, nil
}

func (s *Store) MarkPollClosed(_ context.Context, pollID uuid.UUID, at time.Time) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusActive {
		return false, nil
	}
	p.Status = models.PollStatusClosed
	p.ResolvedAt = &at
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p
	return true, nil
}

func (s *Store) MarkPollResolved(_ context.Context, pollID, consensusOptionID uuid.UUID, at time.Time) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusActive {
		return false, nil
	}
	consensus, winning := consensusOptionID, consensusOptionID
	p.Status = models.PollStatusResolved
	p.CrowdConsensusOptionID = &consensus
	p.WinningOptionID = &winning
	p.ResolvedAt = &at
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p
	return true, nil
}

func (s *Store) SetActualOutcome(_ context.Context, pollID, optionID uuid.UUID) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusResolved || p.ActualOutcomeOptionID != nil {
		return false, nil
	}
	p.ActualOutcomeOptionID = &optionID
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p
	return true, nil
}

func (s *Store) ActivatePoll(_ context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.Status != models.PollStatusUpcoming {
		return false, nil
	}
	p.Status = models.PollStatusActive
	p.OpensAt = opensAt
	p.ClosesAt = closesAt
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p
	return true, nil
}

func (s *Store) ReopenPoll(_ context.Context, pollID uuid.UUID, opensAt, closesAt time.Time) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || (p.Status != models.PollStatusClosed && p.Status != models.PollStatusResolved) {
		return false, nil
	}
	p.Status = models.PollStatusActive
	p.OpensAt = opensAt
	p.ClosesAt = closesAt
	p.ResolvedAt = nil
	p.WinningOptionID = nil
	p.CrowdConsensusOptionID = nil
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p

	for id, o := range s.st.options {
		if o.PollID == pollID {
			o.IsWinner = false
			o.VotePercentage = 0
			s.st.options[id] = o
		}
	}
	return true, nil
}

func (s *Store) FinalizeElection(_ context.Context, pollID uuid.UUID, electionID string) (bool, error) {
	defer s.lock()()
	p, ok := s.st.polls[pollID]
	if !ok || p.VocdoniElectionID == nil || *p.VocdoniElectionID != models.ElectionPending {
		return false, nil
	}
	id := electionID
	p.VocdoniElectionID = &id
	p.UpdatedAt = s.now()
	s.st.polls[pollID] = p
	return true, nil
}

// --- Votes -----------------------------------------------------------------

func (s *Store) HasVoted(_ context.Context, userID, pollID uuid.UUID) (bool, error) {
	defer s.lock()()
	_, ok := s.st.voteIndex[[2]uuid.UUID{userID, pollID}]
	return ok, nil
}

func (s *Store) CreateVote(_ context.Context, vote *models.Vote) error {
	defer s.lock()()
	key := [2]uuid.UUID{vote.UserID, vote.PollID}
	if _, dup := s.st.voteIndex[key]; dup {
		return repository.ErrDuplicate
	}
	if vote.ID == uuid.Nil {
		vote.ID = uuid.New()
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = s.now()
	}
	s.st.votes[vote.ID] = *vote
	s.st.voteIndex[key] = vote.ID
	return nil
}

func (s *Store) ListVotesByPoll(_ context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	defer s.lock()()
	var out []models.Vote
	for _, v := range s.st.votes {
		if v.PollID == pollID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetVoteOption(_ context.Context, voteID, optionID uuid.UUID) error {
	defer s.lock()()
	v, ok := s.st.votes[voteID]
	if !ok {
		return repository.ErrNotFound
	}
	v.OptionID = &optionID
	s.st.votes[voteID] = v
	return nil
}

func (s *Store) ScoreVote(_ context.Context, voteID uuid.UUID, correct bool, bonus int64) error {
	defer s.lock()()
	v, ok := s.st.votes[voteID]
	if !ok {
		return repository.ErrNotFound
	}
	isCorrect, matched := correct, correct
	v.IsCorrect = &isCorrect
	v.MatchedConsensus = &matched
	v.PointsEarned += bonus
	s.st.votes[voteID] = v
	return nil
}

func (s *Store) AddVotePoints(_ context.Context, voteID uuid.UUID, bonus int64) error {
	defer s.lock()()
	v, ok := s.st.votes[voteID]
	if !ok {
		return repository.ErrNotFound
	}
	v.PointsEarned += bonus
	s.st.votes[voteID] = v
	return nil
}

// --- Sweep audit -----------------------------------------------------------

func (s *Store) CreateSweepRun(_ context.Context, run *models.SweepRun) error {
	defer s.lock()()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	s.st.sweepRuns = append(s.st.sweepRuns, *run)
	return nil
}

func accuracy(correct, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(correct).Div(decimal.NewFromInt(total)).Round(4).InexactFloat64()
}

func resolvedAt(p models.Poll) time.Time {
	if p.ResolvedAt == nil {
		return time.Time{}
	}
	return *p.ResolvedAt
}

var _ repository.Repository = (*Store)(nil)
