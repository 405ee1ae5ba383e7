// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kucing007/lelang-cli/bidder"
)

func TestFormatRupiah(t *testing.T) {
	tests := map[int64]string{
		0:          "Rp 0",
		999:        "Rp 999",
		1000:       "Rp 1.000",
		1050000:    "Rp 1.050.000",
		123456789:  "Rp 123.456.789",
		-25000:     "Rp -25.000",
		1000000000: "Rp 1.000.000.000",
	}
	for v, want := range tests {
		if got := FormatRupiah(v); got != want {
			t.Fatalf("%d: want %q, got %q", v, want, got)
		}
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := map[time.Duration]string{
		-time.Second:                    "00:00:00",
		1500 * time.Millisecond:         "00:00:01",
		3*time.Minute + 12*time.Second:  "00:03:12",
		25*time.Hour + 61*time.Second:   "1d 01:01:01",
		2*time.Hour + 59*time.Minute:    "02:59:00",
		48*time.Hour + 30*time.Minute:   "2d 00:30:00",
		999 * time.Millisecond:          "00:00:00",
		59*time.Minute + 59*time.Second: "00:59:59",
	}
	for d, want := range tests {
		if got := FormatCountdown(d); got != want {
			t.Fatalf("%s: want %q, got %q", d, want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := "context deadline exceeded while awaiting headers"
	if got := Truncate(long, ErrorWidth); len([]rune(got)) != ErrorWidth || !strings.HasSuffix(got, "...") {
		t.Fatalf("want %d characters ending with dots, got %q", ErrorWidth, got)
	}
	if got := Truncate("short", ErrorWidth); got != "short" {
		t.Fatalf("want unchanged text, got %q", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Fatalf("want ab, got %q", got)
	}
}

func TestRender(t *testing.T) {
	s := &bidder.Snapshot{
		Lot:          "lot-1",
		Mode:         bidder.Active,
		ServerTime:   time.Date(2026, 1, 11, 6, 3, 12, 0, time.UTC),
		HasEnd:       true,
		Remaining:    42 * time.Second,
		MaxBudget:    2000000,
		Increment:    50000,
		LastAmount:   1050000,
		LastBidder:   "other",
		OwnLast:      1000000,
		Polls:        2,
		Requests:     7,
		Bids:         1,
		LastLatency:  80 * time.Millisecond,
		TotalLatency: 200 * time.Millisecond,
		LastError:    "Post \"https://bidding.lelang.go.id/api/v1/pelaksanaan/lelang/pengajuan-penawaran\": EOF",
	}

	var sb strings.Builder
	Render(&sb, s)
	out := sb.String()
	for _, want := range []string{
		"Lot lot-1 | ACTIVE | 13:03:12 WIB | remaining 00:00:42",
		"Budget Rp 2.000.000 | Increment Rp 50.000",
		"Last bid  Rp 1.050.000 (OPPONENT other)",
		"Own bid   Rp 1.000.000",
		"Bids 1 | Requests 7 | Last 80ms | Avg 100ms",
		"Error: Post \"https://bidding.lelan...",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("want %q in output, got:\n%s", want, out)
		}
	}

	s.LastIsSelf, s.LastBidder = true, "me"
	s.Mode, s.StopReason = bidder.Stopped, "auction ended"
	sb.Reset()
	Render(&sb, s)
	out = sb.String()
	if !strings.Contains(out, "(SELF)") || !strings.Contains(out, "Stopped: auction ended") {
		t.Fatalf("want self marker and stop reason, got:\n%s", out)
	}
}

func TestEvents(t *testing.T) {
	first := &bidder.Snapshot{Lot: "lot-1", Mode: bidder.Standby, MaxBudget: 2000000, Increment: 50000}
	if events := Events(nil, first); len(events) != 1 || !strings.Contains(events[0], "Bidding started") {
		t.Fatalf("want a start event, got %q", events)
	}

	active := *first
	active.Mode, active.Remaining = bidder.Active, 30*time.Second
	if events := Events(first, &active); len(events) != 1 || !strings.Contains(events[0], "Sniper activated") {
		t.Fatalf("want an activation event, got %q", events)
	}

	bid := active
	bid.LastAmount, bid.LastBidder, bid.OwnLast, bid.Bids = 1000000, "other", 1050000, 1
	if events := Events(&active, &bid); len(events) != 1 || !strings.Contains(events[0], "Bid Rp 1.050.000 submitted") {
		t.Fatalf("want a bid event, got %q", events)
	}

	outbid := bid
	outbid.LastAmount, outbid.LastBidder = 1100000, "other"
	if events := Events(&bid, &outbid); len(events) != 1 || !strings.Contains(events[0], "Outbid on lot lot-1: Rp 1.100.000 by other") {
		t.Fatalf("want an outbid event, got %q", events)
	}

	self := outbid
	self.LastAmount, self.LastBidder, self.LastIsSelf = 1150000, "me", true
	if events := Events(&outbid, &self); len(events) != 0 {
		t.Fatalf("want no events for a self bid, got %q", events)
	}
}

type recordMessenger struct {
	mu   sync.Mutex
	msgs []string
}

func (m *recordMessenger) SendMessage(ctx context.Context, at time.Time, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func TestNotifierRateLimit(t *testing.T) {
	ctx := context.Background()
	m := new(recordMessenger)
	n := NewNotifier(m, time.Hour, 2)
	for i := 0; i < 5; i++ {
		n.Notify(ctx, time.Now(), "outbid")
	}
	n.Send(ctx, time.Now(), "stopped")
	if len(m.msgs) != 3 || m.msgs[2] != "stopped" {
		t.Fatalf("want two limited messages and the final one, got %q", m.msgs)
	}
}

func TestSummary(t *testing.T) {
	start := time.Date(2026, 1, 11, 6, 0, 0, 0, time.UTC)
	s := &bidder.Snapshot{
		Lot:          "lot-1",
		StartedAt:    start,
		StoppedAt:    start.Add(95 * time.Second),
		Requests:     120,
		Bids:         3,
		Errors:       2,
		Polls:        4,
		TotalLatency: 400 * time.Millisecond,
		LastAmount:   1150000,
		LastIsSelf:   true,
		OwnLast:      1150000,
		StopReason:   "auction ended",
	}
	out := NewSummary("run-1", s).String()
	for _, want := range []string{
		"Session run-1 on lot lot-1",
		"Duration       1m35s",
		"Requests       120",
		"Avg response   100ms",
		"Final bid      Rp 1.150.000 (self)",
		"Stop reason    auction ended",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("want %q in summary, got:\n%s", want, out)
		}
	}
}
