// Copyright 2025 Certen Protocol
//
// Package anchor submits quorum-signed rounds to the external anchor chain
// as a custom JSON operation, implementing consensus.AnchorSubmitter.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/certen/sidechain-node/pkg/consensus"
)

// maxAttempts bounds the retry-with-backoff loop across rotated endpoints
// before SubmitProposeRound gives up and returns a transport error.
const maxAttempts = 5

// backoffBase is the first retry delay; each subsequent attempt doubles it,
// per the design's "retry after 1s, backoff" note.
const backoffBase = 1 * time.Second

// Client posts proposeRound custom JSONs to one of several anchor RPC
// endpoints, rotating round-robin and retrying with backoff on transport
// failure.
type Client struct {
	chainID   string
	account   string
	endpoints []string
	http      *http.Client

	mu   sync.Mutex
	next int

	retryDelay time.Duration
}

// NewClient creates an anchor Client posting as account under chainID,
// rotating across endpoints.
func NewClient(chainID, account string, endpoints []string) *Client {
	return &Client{
		chainID:    chainID,
		account:    account,
		endpoints:  endpoints,
		http:       &http.Client{Timeout: 10 * time.Second},
		retryDelay: backoffBase,
	}
}

// customJSON is the anchor chain's custom-JSON operation envelope.
type customJSON struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

type contractPayload struct {
	ContractName    string      `json:"contractName"`
	ContractAction  string      `json:"contractAction"`
	ContractPayload interface{} `json:"contractPayload"`
}

type proposeRoundPayload struct {
	Round           uint64                       `json:"round"`
	RoundHash       string                       `json:"roundHash"`
	Signatures      []consensus.WitnessSignature `json:"signatures"`
	BLSAggregateHex string                       `json:"blsAggregateHex,omitempty"`
}

// SubmitProposeRound implements consensus.AnchorSubmitter: it posts exactly
// one proposeRound custom JSON, retrying across rotated endpoints with
// exponential backoff on transport failure. blsAggregateHex rides along as
// an additive, non-authoritative companion field; the anchor chain's
// witnesses contract counterpart verifies quorum from signatures alone.
func (c *Client) SubmitProposeRound(ctx context.Context, round uint64, roundHash string, signatures []consensus.WitnessSignature, blsAggregateHex string) error {
	inner, err := json.Marshal(contractPayload{
		ContractName:   "witnesses",
		ContractAction: "proposeRound",
		ContractPayload: proposeRoundPayload{
			Round:           round,
			RoundHash:       roundHash,
			Signatures:      signatures,
			BLSAggregateHex: blsAggregateHex,
		},
	})
	if err != nil {
		return fmt.Errorf("anchor: marshal contract payload: %w", err)
	}

	envelope := customJSON{
		RequiredAuths:        []string{c.account},
		RequiredPostingAuths: []string{},
		ID:                   fmt.Sprintf("ssc-%s", c.chainID),
		JSON:                 string(inner),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("anchor: marshal envelope: %w", err)
	}

	var lastErr error
	delay := c.retryDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		endpoint := c.nextEndpoint()
		if endpoint == "" {
			return fmt.Errorf("anchor: no endpoints configured")
		}

		if err := c.post(ctx, endpoint, body); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("anchor: all endpoints failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 {
		return ""
	}
	e := c.endpoints[c.next%len(c.endpoints)]
	c.next++
	return e
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("anchor: endpoint %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}
