// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/notify"
	"github.com/visvasity/topic"
	"golang.org/x/time/rate"
)

// Events returns the notification texts for the change from prev to cur. A
// nil prev means cur is the first snapshot of the session.
func Events(prev, cur *bidder.Snapshot) []string {
	var events []string
	if prev == nil {
		events = append(events, fmt.Sprintf("Bidding started on lot %s in %s mode (budget %s, increment %s)",
			cur.Lot, cur.Mode, FormatRupiah(cur.MaxBudget), FormatRupiah(cur.Increment)))
		return events
	}
	if prev.Mode == bidder.Standby && cur.Mode == bidder.Active {
		events = append(events, fmt.Sprintf("Sniper activated on lot %s with %s remaining", cur.Lot, FormatCountdown(cur.Remaining)))
	}
	if cur.LastAmount != prev.LastAmount && cur.LastAmount > 0 && !cur.LastIsSelf && prev.OwnLast > 0 && cur.LastAmount >= prev.OwnLast {
		events = append(events, fmt.Sprintf("Outbid on lot %s: %s by %s", cur.Lot, FormatRupiah(cur.LastAmount), cur.LastBidder))
	}
	if cur.Bids > prev.Bids {
		events = append(events, fmt.Sprintf("Bid %s submitted on lot %s", FormatRupiah(cur.OwnLast), cur.Lot))
	}
	return events
}

// Notifier turns session snapshots into rate limited notifications.
type Notifier struct {
	messenger notify.Messenger

	limiter *rate.Limiter
}

// NewNotifier returns a notifier that sends at most burst messages at once and
// one more message per interval after that.
func NewNotifier(m notify.Messenger, interval time.Duration, burst int) *Notifier {
	return &Notifier{
		messenger: m,
		limiter:   rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Notify sends a message if the rate limit allows it. Dropped messages are
// logged.
func (n *Notifier) Notify(ctx context.Context, at time.Time, msg string) {
	if !n.limiter.Allow() {
		slog.Warn("notification is dropped by the rate limiter", "message", msg)
		return
	}
	n.Send(ctx, at, msg)
}

// Send sends a message ignoring the rate limit.
func (n *Notifier) Send(ctx context.Context, at time.Time, msg string) {
	if err := n.messenger.SendMessage(ctx, at, msg); err != nil {
		slog.Error("could not send notification (ignored)", "message", msg, "err", err)
	}
}

// Run sends notifications for every snapshot from the receiver till the
// context is canceled or the receiver is closed.
func (n *Notifier) Run(ctx context.Context, r *topic.Receiver[bidder.Snapshot]) error {
	var prev *bidder.Snapshot
	var err error
	for cur := range r.All(ctx, &err) {
		for _, msg := range Events(prev, &cur) {
			n.Notify(ctx, cur.ServerTime, msg)
		}
		prev = &cur
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
