package services

import (
	"context"

	"github.com/swarmbet/backend/internal/polymarket/gamma"
	"github.com/swarmbet/backend/internal/vocdoni"
)

// TallyAdapter reads results of anonymous elections.
type TallyAdapter interface {
	FetchElectionResult(ctx context.Context, electionID string) (*vocdoni.ElectionResult, error)
	VerifyBallotReceipt(ctx context.Context, electionID, voteID string) (*vocdoni.BallotReceipt, error)
}

// BallotCaster casts a ballot on a voter's behalf and returns its receipt.
// A nil BallotCaster means server-side casting is unavailable.
type BallotCaster interface {
	CastBallot(ctx context.Context, electionID, nullifierHash string, index int) (string, error)
}

// OutcomeOracle reports how a linked real-world market settled.
type OutcomeOracle interface {
	GetEvent(ctx context.Context, id string) (*gamma.GammaEvent, error)
	GetEventBySlug(ctx context.Context, slug string) (*gamma.GammaEvent, error)
}

var (
	_ TallyAdapter  = (*vocdoni.Client)(nil)
	_ BallotCaster  = (*vocdoni.Client)(nil)
	_ OutcomeOracle = (*gamma.Client)(nil)
)
