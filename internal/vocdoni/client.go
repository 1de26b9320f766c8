/**
 * @description
 * HTTP Client for the Vocdoni anonymous voting network.
 * Reads election tallies, verifies ballot receipts and casts ballots on behalf of voters.
 *
 * @dependencies
 * - net/http
 * - github.com/ethereum/go-ethereum: ballot signing with the voter's derived key
 * - backend/internal/config
 *
 * @notes
 * - Ballot index space is display_order - 1 of the poll's options.
 * - The client never retries; callers decide how to degrade.
 */

package vocdoni

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/swarmbet/backend/internal/config"
)

const (
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrElectionNotFound is returned when the network does not know the election.
	ErrElectionNotFound = errors.New("vocdoni election not found")
	// ErrBallotNotFound is returned when a receipt does not verify against the election.
	ErrBallotNotFound = errors.New("vocdoni ballot not found")
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Vocdoni.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: cfg.Vocdoni.APIURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchElectionResult returns the per-option tally of an election
func (c *Client) FetchElectionResult(ctx context.Context, electionID string) (*ElectionResult, error) {
	u := fmt.Sprintf("%s/elections/%s", c.BaseURL, url.PathEscape(electionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrElectionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vocdoni api error: status %d: %s", resp.StatusCode, string(body))
	}

	var payload electionResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode election: %w", err)
	}

	return payload.toResult(electionID)
}

// VerifyBallotReceipt looks up a cast ballot and decodes its first-question choice
func (c *Client) VerifyBallotReceipt(ctx context.Context, electionID, voteID string) (*BallotReceipt, error) {
	u := fmt.Sprintf("%s/votes/verify/%s/%s", c.BaseURL, url.PathEscape(electionID), url.PathEscape(voteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBallotNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vocdoni verify error: status %d", resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	choice, ok := decodeChoice(payload.Package)
	return &BallotReceipt{VoteID: voteID, Choice: choice, Decoded: ok}, nil
}

// CastBallot signs a single-choice ballot with the voter's derived key and submits it.
// Returns the network's vote id, which serves as the voter's receipt.
func (c *Client) CastBallot(ctx context.Context, electionID, nullifierHash string, index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("ballot index must be >= 0, got %d", index)
	}

	key, err := DeriveVoterKey(nullifierHash)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	payload, err := json.Marshal(envelope{
		ElectionID:  electionID,
		VotePackage: []int{index},
		Voter:       crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Nonce:       hexutil.Encode(nonce),
	})
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return "", fmt.Errorf("sign ballot: %w", err)
	}

	body, err := json.Marshal(castRequest{
		TxPayload: base64.StdEncoding.EncodeToString(payload),
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/votes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vocdoni cast error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out castResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode cast response: %w", err)
	}
	if out.VoteID == "" {
		return "", fmt.Errorf("vocdoni cast returned empty vote id")
	}
	return out.VoteID, nil
}
