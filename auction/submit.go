// Copyright (c) 2023 BVK Chaitanya

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kucing007/lelang-cli/metrics"
)

// ErrClockNotSynced is returned when a bid would have to be stamped with an
// unsynchronized clock.
var ErrClockNotSynced = errors.New("server clock is not synchronized")

// TimeSource is the server clock estimate used to stamp bids.
type TimeSource interface {
	Now() time.Time
	Synced() bool
}

// FormatBidTime formats the bid timestamp as UTC with millisecond precision.
func FormatBidTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SubmitBid posts a bid request. Success is signaled only by code 200 in the
// response body; other codes are returned as *RejectedError.
func (c *Client) SubmitBid(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	addrURL := endpoint(&c.biddingURL, "/bidding/submit")
	resp := new(SubmitResponse)
	if err := httpPostJSON(ctx, c, addrURL, token, req, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not submit bid", "lot", req.AuctionID, "amount", req.BidAmount, "bid-time", req.BidTime, "url", addrURL, "err", err)
		}
		return nil, err
	}
	return resp, nil
}

// BidSubmitter posts bids for a single lot.
type BidSubmitter struct {
	client *Client

	lot     string
	passkey string

	clock TimeSource
}

func NewBidSubmitter(c *Client, lot, passkey string, clock TimeSource) *BidSubmitter {
	return &BidSubmitter{
		client:  c,
		lot:     lot,
		passkey: passkey,
		clock:   clock,
	}
}

// Submit posts one bid stamped with the server clock. Transport, http and
// business failures are all returned as errors; callers cannot tell a lost
// bid from a rejected one except through errors.As with *RejectedError.
func (s *BidSubmitter) Submit(ctx context.Context, amount int64) error {
	if !s.clock.Synced() {
		metrics.Bids.WithLabelValues("failed").Inc()
		return fmt.Errorf("could not submit bid %d: %w", amount, ErrClockNotSynced)
	}
	req := &SubmitRequest{
		AuctionID: s.lot,
		BidAmount: amount,
		Passkey:   s.passkey,
		BidTime:   FormatBidTime(s.clock.Now()),
	}

	start := time.Now()
	_, err := s.client.SubmitBid(ctx, req)
	metrics.Requests.WithLabelValues("submit").Inc()
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			metrics.Bids.WithLabelValues("rejected").Inc()
		} else {
			metrics.Bids.WithLabelValues("failed").Inc()
		}
		return fmt.Errorf("could not submit bid %d: %w", amount, err)
	}
	metrics.Bids.WithLabelValues("ok").Inc()
	slog.Info("bid is submitted", "lot", s.lot, "amount", amount, "bid-time", req.BidTime)
	return nil
}
