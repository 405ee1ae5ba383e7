// Copyright (c) 2023 BVK Chaitanya

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/metrics"
)

// RacingPoller reads the latest ledger entry by racing several identical
// requests and keeping the first usable response.
type RacingPoller struct {
	client *Client

	lot   string
	ownID string
	width int
}

// NewRacingPoller returns a poller for the lot. Width below one is treated as
// one.
func NewRacingPoller(c *Client, lot, ownID string, width int) *RacingPoller {
	return &RacingPoller{
		client: c,
		lot:    lot,
		ownID:  ownID,
		width:  max(width, 1),
	}
}

// Width returns the number of requests issued by each Poll.
func (p *RacingPoller) Width() int {
	return p.width
}

// Poll launches width parallel ledger reads and returns the first usable
// result. Remaining branches are left to finish on their own within the
// client timeouts; their results are dropped.
//
// Credential errors are returned as is before any request is issued. When all
// branches fail the error wraps ErrNoObservation and the last branch error.
func (p *RacingPoller) Poll(ctx context.Context) (*Observation, error) {
	token, err := p.client.creds.Token(ctx)
	if err != nil {
		metrics.PollResults.WithLabelValues("unauthenticated").Inc()
		return nil, err
	}

	type result struct {
		records []*BidRecord
		err     error
	}

	// Branches are detached from ctx so that a winner or a cancellation does
	// not abort the stragglers mid-flight.
	rctx := context.WithoutCancel(ctx)
	resultCh := make(chan result, p.width)

	start := time.Now()
	for i := 0; i < p.width; i++ {
		go func() {
			records, err := p.client.readHistory(rctx, p.lot, token)
			resultCh <- result{records: records, err: err}
		}()
	}
	metrics.Requests.WithLabelValues("poll").Add(float64(p.width))

	var lastErr error
	for i := 0; i < p.width; i++ {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case r := <-resultCh:
			if r.err != nil {
				lastErr = r.err
				continue
			}
			obs, err := NewObservation(r.records, p.ownID)
			if err != nil {
				lastErr = err
				continue
			}
			obs.Latency = time.Since(start)
			metrics.PollResults.WithLabelValues("ok").Inc()
			metrics.PollLatency.Observe(obs.Latency.Seconds())
			return obs, nil
		}
	}

	if errors.Is(lastErr, ErrEmptyLedger) {
		metrics.PollResults.WithLabelValues("empty").Inc()
	} else {
		metrics.PollResults.WithLabelValues("failed").Inc()
		slog.Warn("all ledger reads failed", "lot", p.lot, "width", p.width, "err", lastErr)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoObservation, lastErr)
}

// NewObservation extracts the latest bid and the operator's most recent bid
// from a most-recent-first ledger page. Own bid is never found when ownID is
// empty. Amounts that are negative or out of the int64 range fail with
// ErrInvalidAmount.
func NewObservation(records []*BidRecord, ownID string) (*Observation, error) {
	obs := new(Observation)
	if len(records) == 0 {
		return obs, nil
	}
	if top := records[0]; top != nil {
		amount, err := toAmount(top.BidAmount)
		if err != nil {
			return nil, fmt.Errorf("could not use latest ledger record: %w", err)
		}
		obs.Amount = amount
		obs.Bidder = string(top.UserAuctionID)
	}
	if len(ownID) == 0 {
		return obs, nil
	}
	for _, r := range records {
		if r != nil && string(r.UserAuctionID) == ownID {
			amount, err := toAmount(r.BidAmount)
			if err != nil {
				return nil, fmt.Errorf("could not use own ledger record: %w", err)
			}
			obs.OwnAmount = amount
			obs.OwnFound = true
			break
		}
	}
	return obs, nil
}

// Observe performs one plain ledger read, with the client's retry policy,
// and converts it into an observation.
func (c *Client) Observe(ctx context.Context, lot, ownID string) (*Observation, error) {
	start := time.Now()
	records, err := c.History(ctx, lot)
	if errors.Is(err, credential.ErrNotAuthenticated) {
		return nil, err
	}
	metrics.Requests.WithLabelValues("initial").Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoObservation, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoObservation, ErrEmptyLedger)
	}
	obs, err := NewObservation(records, ownID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoObservation, err)
	}
	obs.Latency = time.Since(start)
	return obs, nil
}
