package vocdoni

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ElectionResult is the per-option tally of an anonymous election.
// Counts is indexed by ballot index (display_order - 1).
type ElectionResult struct {
	ElectionID string
	Counts     []int64
	VoteCount  int64 // 0 when the network did not report a total
}

// Total returns the reported vote count, falling back to the sum of option counts.
func (r *ElectionResult) Total() int64 {
	if r.VoteCount > 0 {
		return r.VoteCount
	}
	var sum int64
	for _, c := range r.Counts {
		sum += c
	}
	return sum
}

// BallotReceipt is the verified content of one cast ballot.
type BallotReceipt struct {
	VoteID  string
	Choice  int
	Decoded bool // false when the package could not be read as a choice vector
}

type electionResponse struct {
	ElectionID string          `json:"electionId"`
	VoteCount  json.Number     `json:"voteCount"`
	Result     [][]interface{} `json:"result"`
}

type verifyResponse struct {
	Package json.RawMessage `json:"package"`
}

type castRequest struct {
	TxPayload string `json:"txPayload"`
	Signature string `json:"signature"`
}

type castResponse struct {
	VoteID string `json:"voteID"`
}

type envelope struct {
	ElectionID  string `json:"electionId"`
	VotePackage []int  `json:"votePackage"`
	Voter       string `json:"voter"`
	Nonce       string `json:"nonce"`
}

// parseCount accepts counts encoded as decimal strings or JSON numbers.
func parseCount(v interface{}) (int64, error) {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return 0, nil
		}
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case json.Number:
		return val.Int64()
	case float64:
		return int64(val), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}

func (r *electionResponse) toResult(electionID string) (*ElectionResult, error) {
	out := &ElectionResult{ElectionID: electionID}
	if r.VoteCount != "" {
		n, err := r.VoteCount.Int64()
		if err != nil {
			return nil, fmt.Errorf("parse voteCount: %w", err)
		}
		out.VoteCount = n
	}
	if len(r.Result) == 0 {
		return out, nil
	}
	// Single-question elections: the first row holds the option counts.
	for i, raw := range r.Result[0] {
		n, err := parseCount(raw)
		if err != nil {
			return nil, fmt.Errorf("parse result[0][%d]: %w", i, err)
		}
		out.Counts = append(out.Counts, n)
	}
	return out, nil
}

func decodeChoice(pkg json.RawMessage) (int, bool) {
	if len(pkg) == 0 {
		return 0, false
	}
	var choices []int
	if err := json.Unmarshal(pkg, &choices); err != nil || len(choices) == 0 {
		return 0, false
	}
	return choices[0], true
}
