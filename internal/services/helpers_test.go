package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/repository"
	"github.com/swarmbet/backend/internal/repository/memory"
	"github.com/swarmbet/backend/internal/vocdoni"
)

// fakeVocdoni records cast ballots and answers receipt verification from them.
type fakeVocdoni struct {
	mu          sync.Mutex
	casts       int
	castErr     error
	ballots     map[string]int
	results     map[string]*vocdoni.ElectionResult
	fetchErr    error
	verifyErrs  map[string]error
	undecodable map[string]bool
}

func newFakeVocdoni() *fakeVocdoni {
	return &fakeVocdoni{
		ballots:     make(map[string]int),
		results:     make(map[string]*vocdoni.ElectionResult),
		verifyErrs:  make(map[string]error),
		undecodable: make(map[string]bool),
	}
}

func (f *fakeVocdoni) CastBallot(_ context.Context, electionID, nullifierHash string, index int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casts++
	if f.castErr != nil {
		return "", f.castErr
	}
	receipt := electionID + "/" + nullifierHash
	f.ballots[receipt] = index
	return receipt, nil
}

func (f *fakeVocdoni) FetchElectionResult(_ context.Context, electionID string) (*vocdoni.ElectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	res, ok := f.results[electionID]
	if !ok {
		return nil, vocdoni.ErrElectionNotFound
	}
	return res, nil
}

func (f *fakeVocdoni) VerifyBallotReceipt(_ context.Context, _ string, voteID string) (*vocdoni.BallotReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.verifyErrs[voteID]; err != nil {
		return nil, err
	}
	choice, ok := f.ballots[voteID]
	if !ok {
		return nil, vocdoni.ErrBallotNotFound
	}
	return &vocdoni.BallotReceipt{VoteID: voteID, Choice: choice, Decoded: !f.undecodable[voteID]}, nil
}

func (f *fakeVocdoni) castCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.casts
}

// hookedRepo lets a test run code between repository calls or fail one write.
type hookedRepo struct {
	repository.Repository
	hooks *repoHooks
}

type repoHooks struct {
	mu             sync.Mutex
	afterGetPoll   func()
	failResolveFor uuid.UUID
}

func newHookedRepo(inner repository.Repository) *hookedRepo {
	return &hookedRepo{Repository: inner, hooks: &repoHooks{}}
}

func (r *hookedRepo) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	return r.Repository.InTx(ctx, func(tx repository.Repository) error {
		return fn(&hookedRepo{Repository: tx, hooks: r.hooks})
	})
}

// GetPoll runs afterGetPoll once, after the read has returned.
func (r *hookedRepo) GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := r.Repository.GetPoll(ctx, id)
	r.hooks.mu.Lock()
	hook := r.hooks.afterGetPoll
	r.hooks.afterGetPoll = nil
	r.hooks.mu.Unlock()
	if hook != nil {
		hook()
	}
	return p, err
}

func (r *hookedRepo) MarkPollResolved(ctx context.Context, pollID, consensusOptionID uuid.UUID, at time.Time) (bool, error) {
	r.hooks.mu.Lock()
	fail := r.hooks.failResolveFor == pollID
	r.hooks.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.MarkPollResolved(ctx, pollID, consensusOptionID, at)
}

type fakeOracle struct {
	events map[string]*gamma.GammaEvent
	slugs  map[string]*gamma.GammaEvent
	err    error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		events: make(map[string]*gamma.GammaEvent),
		slugs:  make(map[string]*gamma.GammaEvent),
	}
}

func (f *fakeOracle) GetEvent(_ context.Context, id string) (*gamma.GammaEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.events[id]; ok {
		return e, nil
	}
	return nil, gamma.ErrEventNotFound
}

func (f *fakeOracle) GetEventBySlug(_ context.Context, slug string) (*gamma.GammaEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.slugs[slug]; ok {
		return e, nil
	}
	return nil, gamma.ErrEventNotFound
}

type testEnv struct {
	ctx         context.Context
	now         time.Time
	store       *memory.Store
	mr          *miniredis.Miniredis
	redis       *redis.Client
	vocdoni     *fakeVocdoni
	oracle      *fakeOracle
	votes       *VoteService
	resolution  *ResolutionService
	outcomes    *OutcomeService
	admin       *PollAdminService
	leaderboard *LeaderboardService
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		PollWindow:            24 * time.Hour,
		SweepConcurrency:      4,
		ReceiptConcurrency:    4,
		SweepLockTTL:          time.Minute,
		VoteGuardTTL:          30 * time.Second,
		BallotReceiptCacheTTL: time.Hour,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := testEngineConfig()
	store := memory.New()
	fv := newFakeVocdoni()
	oracle := newFakeOracle()
	locker := NewLocker(redisClient)
	leaderboard := NewLeaderboardService(store, redisClient)

	env := &testEnv{
		ctx:         context.Background(),
		now:         time.Now().UTC(),
		store:       store,
		mr:          mr,
		redis:       redisClient,
		vocdoni:     fv,
		oracle:      oracle,
		votes:       NewVoteService(store, redisClient, fv, leaderboard, cfg),
		resolution:  NewResolutionService(store, fv, locker, cfg),
		outcomes:    NewOutcomeService(store, oracle, locker, cfg),
		admin:       NewPollAdminService(store, cfg),
		leaderboard: leaderboard,
	}
	return env
}

func (e *testEnv) seedUser(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{
		AuthUID:       "auth-" + name,
		Username:      name,
		NullifierHash: "nullifier-" + name,
	}
	if err := e.store.CreateUser(e.ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return user
}

type pollSpec struct {
	status     models.PollStatus
	opensAt    time.Time
	closesAt   time.Time
	electionID *string
	eventID    *string
	slug       *string
	labels     []string
}

func (e *testEnv) seedPoll(t *testing.T, spec pollSpec) *models.Poll {
	t.Helper()
	if spec.status == "" {
		spec.status = models.PollStatusActive
	}
	if spec.opensAt.IsZero() {
		spec.opensAt = e.now.Add(-time.Hour)
	}
	if spec.closesAt.IsZero() {
		spec.closesAt = e.now.Add(time.Hour)
	}
	poll := &models.Poll{
		Question:           "Who will win?",
		Category:           "sports",
		OpensAt:            spec.opensAt,
		ClosesAt:           spec.closesAt,
		Status:             spec.status,
		PointsForVoting:    models.DefaultPointsForVoting,
		PointsForConsensus: models.DefaultPointsForConsensus,
		VocdoniElectionID:  spec.electionID,
		PolymarketEventID:  spec.eventID,
		PolymarketSlug:     spec.slug,
	}
	for i, label := range spec.labels {
		poll.Options = append(poll.Options, models.PollOption{Label: label, DisplayOrder: i + 1})
	}
	if err := e.store.CreatePoll(e.ctx, poll); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	return poll
}

func (e *testEnv) vote(t *testing.T, user *models.User, poll *models.Poll, optionIdx int) *SubmitVoteResult {
	t.Helper()
	res, err := e.votes.SubmitVote(e.ctx, SubmitVoteInput{
		AuthUID:    user.AuthUID,
		PollID:     poll.ID.String(),
		OptionID:   poll.Options[optionIdx].ID.String(),
		Confidence: string(models.ConfidenceHigh),
	})
	if err != nil {
		t.Fatalf("SubmitVote(%s): %v", user.Username, err)
	}
	return res
}

func (e *testEnv) user(t *testing.T, id *models.User) *models.User {
	t.Helper()
	u, err := e.store.GetUser(e.ctx, id.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u
}

func (e *testEnv) poll(t *testing.T, p *models.Poll) *models.Poll {
	t.Helper()
	got, err := e.store.GetPoll(e.ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	return got
}

// closeAll runs the closing sweep as if the clock were past every seeded deadline.
func (e *testEnv) closeAll(t *testing.T) *CloseSweepResult {
	t.Helper()
	e.resolution.now = func() time.Time { return e.now.Add(2 * time.Hour) }
	res, err := e.resolution.CloseDuePolls(e.ctx, nil)
	if err != nil {
		t.Fatalf("CloseDuePolls: %v", err)
	}
	return res
}

func (e *testEnv) assertLedgerConsistent(t *testing.T, users ...*models.User) {
	t.Helper()
	for _, u := range users {
		audit, err := e.leaderboard.AuditLedger(e.ctx, u.ID)
		if err != nil {
			t.Fatalf("AuditLedger: %v", err)
		}
		if !audit.Consistent {
			t.Fatalf("ledger drift for %s: balance=%d history=%d", u.Username, audit.SwarmPoints, audit.LedgerTotal)
		}
	}
}

func voteOf(t *testing.T, e *testEnv, p *models.Poll, u *models.User) models.Vote {
	t.Helper()
	votes, err := e.store.ListVotesByPoll(e.ctx, p.ID)
	if err != nil {
		t.Fatalf("ListVotesByPoll: %v", err)
	}
	for _, v := range votes {
		if v.UserID == u.ID {
			return v
		}
	}
	t.Fatalf("no vote by %s on poll %s", u.Username, p.ID)
	return models.Vote{}
}

func strPtr(s string) *string { return &s }

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
