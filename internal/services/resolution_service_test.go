package services

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/vocdoni"
)

func TestCloseDuePollsMajorityConsensus(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})
	red := []*models.User{env.seedUser(t, "a"), env.seedUser(t, "b"), env.seedUser(t, "c")}
	blue := env.seedUser(t, "d")
	for _, u := range red {
		env.vote(t, u, poll, 0)
	}
	env.vote(t, blue, poll, 1)

	res := env.closeAll(t)
	if res.Closed != 1 || res.Results[0].Status != CloseStatusResolved {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	if res.Results[0].ConsensusLabel != "Red" || res.Results[0].CorrectVoters != 3 || res.Results[0].TotalVotes != 4 {
		t.Fatalf("unexpected result row %+v", res.Results[0])
	}

	got := env.poll(t, poll)
	redOpt, blueOpt := got.Options[0], got.Options[1]
	if got.Status != models.PollStatusResolved || got.ResolvedAt == nil {
		t.Fatalf("poll not resolved: %+v", got)
	}
	if got.CrowdConsensusOptionID == nil || *got.CrowdConsensusOptionID != redOpt.ID || *got.WinningOptionID != redOpt.ID {
		t.Fatal("consensus and winning option should both be Red")
	}
	if !redOpt.IsWinner || blueOpt.IsWinner {
		t.Fatal("only Red should be marked winner")
	}
	if redOpt.VotePercentage != 75 || blueOpt.VotePercentage != 25 {
		t.Fatalf("unexpected percentages %.2f / %.2f", redOpt.VotePercentage, blueOpt.VotePercentage)
	}

	for _, u := range red {
		got := env.user(t, u)
		if got.SwarmPoints != 6000 || got.CorrectPredictions != 1 || got.AccuracyScore != 1 {
			t.Fatalf("Red voter %s: %+v", u.Username, got)
		}
	}
	loser := env.user(t, blue)
	if loser.SwarmPoints != 1000 || loser.CorrectPredictions != 0 || loser.AccuracyScore != 0 {
		t.Fatalf("Blue voter: %+v", loser)
	}

	votes, _ := env.store.ListVotesByPoll(env.ctx, poll.ID)
	for _, v := range votes {
		if v.IsCorrect == nil || v.MatchedConsensus == nil {
			t.Fatalf("vote %s was not scored", v.ID)
		}
		want := int64(1000)
		if *v.IsCorrect {
			want = 6000
		}
		if v.PointsEarned != want {
			t.Fatalf("vote %s: points_earned = %d, want %d", v.ID, v.PointsEarned, want)
		}
	}
	env.assertLedgerConsistent(t, append(red, blue)...)
}

func TestCloseDuePollsTieGoesToFirstOption(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue", "Green"}})
	env.vote(t, env.seedUser(t, "a"), poll, 2)
	env.vote(t, env.seedUser(t, "b"), poll, 1)

	res := env.closeAll(t)
	if res.Results[0].ConsensusLabel != "Blue" {
		t.Fatalf("tie should resolve to the lower display order, got %q", res.Results[0].ConsensusLabel)
	}

	got := env.poll(t, poll)
	var sum float64
	for _, o := range got.Options {
		sum += o.VotePercentage
	}
	if math.Abs(sum-100) > 0.05 {
		t.Fatalf("percentages should add up to 100, got %.2f", sum)
	}
}

func TestCloseDuePollsNoVotes(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})

	res := env.closeAll(t)
	if res.Results[0].Status != CloseStatusClosedNoVotes {
		t.Fatalf("expected closed_no_votes, got %+v", res.Results[0])
	}
	got := env.poll(t, poll)
	if got.Status != models.PollStatusClosed || got.CrowdConsensusOptionID != nil || got.WinningOptionID != nil {
		t.Fatalf("unexpected poll after empty close: %+v", got)
	}
	for _, o := range got.Options {
		if o.IsWinner {
			t.Fatal("no option may win an empty poll")
		}
	}
}

func TestCloseDuePollsSkipsOpenPolls(t *testing.T) {
	env := newTestEnv(t)
	env.seedPoll(t, pollSpec{closesAt: env.now.Add(48 * time.Hour), labels: []string{"Red", "Blue"}})

	res := env.closeAll(t)
	if res.Closed != 0 {
		t.Fatalf("poll before its deadline must not close, got %+v", res)
	}
}

func TestCloseDuePollsForceClose(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{closesAt: env.now.Add(48 * time.Hour), labels: []string{"Red", "Blue"}})
	voter := env.seedUser(t, "a")
	env.vote(t, voter, poll, 1)

	res, err := env.resolution.CloseDuePolls(env.ctx, &poll.ID)
	if err != nil {
		t.Fatalf("CloseDuePolls(force): %v", err)
	}
	if res.Closed != 1 || res.Results[0].Status != CloseStatusResolved || res.Results[0].ConsensusLabel != "Blue" {
		t.Fatalf("force close should resolve the poll, got %+v", res)
	}

	_, err = env.resolution.CloseDuePolls(env.ctx, &poll.ID)
	assertErrIs(t, err, ErrNotActive)

	missing := uuid.New()
	_, err = env.resolution.CloseDuePolls(env.ctx, &missing)
	assertErrIs(t, err, ErrNotFound)

	runs := env.store.SweepRuns()
	if len(runs) != 1 || runs[0].ForcedPollID == nil || *runs[0].ForcedPollID != poll.ID {
		t.Fatalf("forced sweep should be audited, got %+v", runs)
	}
}

func TestCloseDuePollsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})
	voter := env.seedUser(t, "a")
	env.vote(t, voter, poll, 0)

	env.closeAll(t)
	before := env.user(t, voter)

	res := env.closeAll(t)
	if res.Closed != 0 {
		t.Fatalf("second sweep should find nothing to close, got %+v", res)
	}
	after := env.user(t, voter)
	if after.SwarmPoints != before.SwarmPoints || after.CorrectPredictions != before.CorrectPredictions {
		t.Fatal("second sweep must not award again")
	}
}

func TestCloseDuePollsLockedSweep(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Set(sweepLockKey(string(models.SweepKindClose)), "someone-else")

	_, err := env.resolution.CloseDuePolls(env.ctx, nil)
	assertErrIs(t, err, ErrConflict)
}

func TestCloseDuePollsAnonymousTally(t *testing.T) {
	env := newTestEnv(t)
	const election = "election-0001"
	poll := env.seedPoll(t, pollSpec{electionID: strPtr(election), labels: []string{"Red", "Blue"}})
	a, b, c := env.seedUser(t, "a"), env.seedUser(t, "b"), env.seedUser(t, "c")
	env.vote(t, a, poll, 1)
	env.vote(t, b, poll, 1)
	env.vote(t, c, poll, 0)
	env.vocdoni.results[election] = &vocdoni.ElectionResult{ElectionID: election, Counts: []int64{1, 2}, VoteCount: 3}

	res := env.closeAll(t)
	row := res.Results[0]
	if row.Status != CloseStatusResolved || !row.Anonymous || row.ConsensusLabel != "Blue" || row.CorrectVoters != 2 {
		t.Fatalf("unexpected result row %+v", row)
	}
	if row.TallyDiscrepancy != nil {
		t.Fatalf("consistent tally reported a discrepancy: %+v", row.TallyDiscrepancy)
	}

	got := env.poll(t, poll)
	if got.TotalVotes != 3 || got.Options[0].VoteCount != 1 || got.Options[1].VoteCount != 2 {
		t.Fatalf("adapter tally should overwrite counts: %+v", got)
	}
	if got.Options[0].VotePercentage != 33.33 || got.Options[1].VotePercentage != 66.67 {
		t.Fatalf("unexpected percentages %.2f / %.2f", got.Options[0].VotePercentage, got.Options[1].VotePercentage)
	}

	votes, _ := env.store.ListVotesByPoll(env.ctx, poll.ID)
	for _, v := range votes {
		if v.OptionID == nil {
			t.Fatalf("receipt for vote %s was not reconciled", v.ID)
		}
	}
	if u := env.user(t, a); u.SwarmPoints != 6000 || u.CorrectPredictions != 1 {
		t.Fatalf("Blue voter should get the bonus: %+v", u)
	}
	if u := env.user(t, c); u.SwarmPoints != 1000 {
		t.Fatalf("Red voter must not get the bonus: %+v", u)
	}
	env.assertLedgerConsistent(t, a, b, c)
}

func TestCloseDuePollsReportsTallyDiscrepancy(t *testing.T) {
	env := newTestEnv(t)
	const election = "election-0002"
	poll := env.seedPoll(t, pollSpec{electionID: strPtr(election), labels: []string{"Red", "Blue"}})
	env.vote(t, env.seedUser(t, "a"), poll, 0)
	env.vocdoni.results[election] = &vocdoni.ElectionResult{ElectionID: election, Counts: []int64{4, 1}, VoteCount: 5}

	res := env.closeAll(t)
	d := res.Results[0].TallyDiscrepancy
	if d == nil || d.AdapterTotal != 5 || d.ReceiptVotes != 1 || d.ReconciledReceipts != 1 {
		t.Fatalf("expected discrepancy 5/1/1, got %+v", d)
	}
	if res.Results[0].Status != CloseStatusResolved {
		t.Fatalf("discrepancy must not block resolution: %+v", res.Results[0])
	}
}

func TestCloseDuePollsAdapterFailureFallsBack(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{electionID: strPtr("election-0003"), labels: []string{"Red", "Blue"}})
	env.vote(t, env.seedUser(t, "a"), poll, 0)
	env.vocdoni.fetchErr = errors.New("adapter offline")

	res := env.closeAll(t)
	if res.Results[0].Status != CloseStatusClosedNoVotes {
		t.Fatalf("without a tally the stored (empty) counts decide, got %+v", res.Results[0])
	}
	if got := env.poll(t, poll); got.Status != models.PollStatusClosed {
		t.Fatalf("poll should still close, got %s", got.Status)
	}
	votes, _ := env.store.ListVotesByPoll(env.ctx, poll.ID)
	if len(votes) != 1 || votes[0].OptionID == nil || *votes[0].OptionID != poll.Options[0].ID {
		t.Fatalf("verified receipt should be written back even without consensus: %+v", votes)
	}
}

func TestCloseDuePollsPendingElection(t *testing.T) {
	env := newTestEnv(t)
	poll := env.seedPoll(t, pollSpec{electionID: strPtr(models.ElectionPending), labels: []string{"Red", "Blue"}})
	voter := env.seedUser(t, "a")
	env.vote(t, voter, poll, 0)

	res := env.closeAll(t)
	if res.Results[0].Status != CloseStatusClosedNoVotes {
		t.Fatalf("pending election has no tally to resolve from, got %+v", res.Results[0])
	}
	if u := env.user(t, voter); u.SwarmPoints != 1000 {
		t.Fatalf("no bonus expected, got %d", u.SwarmPoints)
	}
}

func TestAccuracyLawAcrossPolls(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.seedUser(t, "alice"), env.seedUser(t, "bob")

	// Red always wins; alice picks Blue once
	for _, aliceChoice := range []int{0, 1, 0} {
		poll := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})
		env.vote(t, alice, poll, aliceChoice)
		env.vote(t, bob, poll, 0)
		env.vote(t, env.seedUser(t, "extra-"+uuid.NewString()[:6]), poll, 0)
	}
	env.closeAll(t)

	for _, u := range []*models.User{alice, bob} {
		got := env.user(t, u)
		want := math.Round(float64(got.CorrectPredictions)/float64(got.TotalPredictions)*10000) / 10000
		if got.AccuracyScore != want {
			t.Fatalf("%s accuracy %.4f, want %.4f", u.Username, got.AccuracyScore, want)
		}
	}
	if got := env.user(t, alice); got.CorrectPredictions != 2 || got.TotalPredictions != 3 || got.AccuracyScore != 0.6667 {
		t.Fatalf("alice: %+v", got)
	}
	env.assertLedgerConsistent(t, alice, bob)
}

func TestCloseDuePollsIsolatesFailingPoll(t *testing.T) {
	env := newTestEnv(t)
	broken := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})
	healthy := env.seedPoll(t, pollSpec{labels: []string{"Red", "Blue"}})
	a, b := env.seedUser(t, "a"), env.seedUser(t, "b")
	env.vote(t, a, broken, 0)
	env.vote(t, b, healthy, 1)

	repo := newHookedRepo(env.store)
	repo.hooks.failResolveFor = broken.ID
	svc := NewResolutionService(repo, env.vocdoni, NewLocker(env.redis), testEngineConfig())
	svc.now = func() time.Time { return env.now.Add(2 * time.Hour) }

	res, err := svc.CloseDuePolls(env.ctx, nil)
	if err != nil {
		t.Fatalf("CloseDuePolls: %v", err)
	}
	rows := make(map[uuid.UUID]PollCloseResult, len(res.Results))
	for _, r := range res.Results {
		rows[r.PollID] = r
	}
	if r := rows[broken.ID]; r.Status != CloseStatusError || r.Error == "" {
		t.Fatalf("failing poll should report an error row, got %+v", r)
	}
	if r := rows[healthy.ID]; r.Status != CloseStatusResolved || r.ConsensusLabel != "Blue" {
		t.Fatalf("other polls must still resolve, got %+v", r)
	}

	if got := env.poll(t, broken); got.Status != models.PollStatusActive || got.CrowdConsensusOptionID != nil {
		t.Fatalf("failed close must leave the poll untouched: %+v", got)
	}
	if v := voteOf(t, env, broken, a); v.IsCorrect != nil || v.PointsEarned != 1000 {
		t.Fatalf("failed close must not score votes: %+v", v)
	}
	if u := env.user(t, a); u.SwarmPoints != 1000 {
		t.Fatalf("failed close must not award, got %d", u.SwarmPoints)
	}
	if u := env.user(t, b); u.SwarmPoints != 6000 {
		t.Fatalf("healthy poll voter should get the bonus, got %d", u.SwarmPoints)
	}
	runs := env.store.SweepRuns()
	if len(runs) != 1 || runs[0].Processed != 2 || runs[0].Failed != 1 {
		t.Fatalf("sweep audit should count one failure, got %+v", runs)
	}

	repo.hooks.mu.Lock()
	repo.hooks.failResolveFor = uuid.Nil
	repo.hooks.mu.Unlock()
	again, err := svc.CloseDuePolls(env.ctx, nil)
	if err != nil {
		t.Fatalf("CloseDuePolls (rerun): %v", err)
	}
	if again.Closed != 1 || again.Results[0].PollID != broken.ID || again.Results[0].Status != CloseStatusResolved {
		t.Fatalf("rerun should resolve the previously failed poll, got %+v", again)
	}
	if u := env.user(t, a); u.SwarmPoints != 6000 {
		t.Fatalf("rerun should award the bonus once, got %d", u.SwarmPoints)
	}
	env.assertLedgerConsistent(t, a, b)
}

func TestCloseDuePollsIsolatesBadReceipts(t *testing.T) {
	env := newTestEnv(t)
	const election = "election-0004"
	poll := env.seedPoll(t, pollSpec{electionID: strPtr(election), labels: []string{"Red", "Blue"}})
	good := []*models.User{env.seedUser(t, "a"), env.seedUser(t, "b")}
	red := env.seedUser(t, "c")
	failing, garbled, outOfRange := env.seedUser(t, "d"), env.seedUser(t, "e"), env.seedUser(t, "f")
	for _, u := range append(good, failing, garbled, outOfRange) {
		env.vote(t, u, poll, 1)
	}
	env.vote(t, red, poll, 0)

	env.vocdoni.verifyErrs[election+"/"+failing.NullifierHash] = errors.New("gateway timeout")
	env.vocdoni.undecodable[election+"/"+garbled.NullifierHash] = true
	env.vocdoni.ballots[election+"/"+outOfRange.NullifierHash] = len(poll.Options)
	env.vocdoni.results[election] = &vocdoni.ElectionResult{ElectionID: election, Counts: []int64{1, 5}}

	res := env.closeAll(t)
	row := res.Results[0]
	if row.Status != CloseStatusResolved || row.ConsensusLabel != "Blue" || row.CorrectVoters != 2 {
		t.Fatalf("unreadable receipts must not block the poll, got %+v", row)
	}
	if d := row.TallyDiscrepancy; d == nil || d.AdapterTotal != 6 || d.ReceiptVotes != 6 || d.ReconciledReceipts != 3 {
		t.Fatalf("expected summed total 6 and 6 receipts with 3 reconciled, got %+v", d)
	}
	if got := env.poll(t, poll); got.TotalVotes != 6 {
		t.Fatalf("unreported total should fall back to the option sum, got %d", got.TotalVotes)
	}

	for _, u := range good {
		v := voteOf(t, env, poll, u)
		if v.OptionID == nil || *v.OptionID != poll.Options[1].ID || v.IsCorrect == nil || !*v.IsCorrect || v.PointsEarned != 6000 {
			t.Fatalf("readable receipt for %s should be reconciled and scored: %+v", u.Username, v)
		}
	}
	if v := voteOf(t, env, poll, red); v.OptionID == nil || *v.OptionID != poll.Options[0].ID || v.IsCorrect == nil || *v.IsCorrect {
		t.Fatalf("Red receipt should be reconciled and scored wrong: %+v", v)
	}
	for _, u := range []*models.User{failing, garbled, outOfRange} {
		v := voteOf(t, env, poll, u)
		if v.OptionID != nil || v.IsCorrect == nil || *v.IsCorrect || v.PointsEarned != 1000 {
			t.Fatalf("unreadable receipt for %s must stay unmatched: %+v", u.Username, v)
		}
		if got := env.user(t, u); got.SwarmPoints != 1000 {
			t.Fatalf("%s must not get the bonus, got %d", u.Username, got.SwarmPoints)
		}
	}
	env.assertLedgerConsistent(t, append(good, red, failing, garbled, outOfRange)...)
}
