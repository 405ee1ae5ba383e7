// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/job"
)

type scriptPoller struct {
	mu    sync.Mutex
	obs   func(n int) *auction.Observation
	calls int
}

func (p *scriptPoller) Width() int { return 3 }

func (p *scriptPoller) Poll(ctx context.Context) (*auction.Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.obs(p.calls), nil
}

type recordSubmitter struct {
	mu      sync.Mutex
	amounts []int64
}

func (s *recordSubmitter) Submit(ctx context.Context, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts = append(s.amounts, amount)
	return nil
}

func TestSchedulerBounds(t *testing.T) {
	s, err := NewScheduler(nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		until  time.Duration
		known  bool
		lo, hi time.Duration
	}{
		{0, false, 60 * time.Second, 180 * time.Second},
		{10 * time.Minute, true, 60 * time.Second, 180 * time.Second},
		{3 * time.Minute, true, 15 * time.Second, 30 * time.Second},
		{30 * time.Second, true, 2500 * time.Millisecond, 5 * time.Second},
	}
	for _, test := range tests {
		lo, hi := s.Bounds(test.until, test.known)
		if lo != test.lo || hi != test.hi {
			t.Fatalf("until=%s: want [%s, %s], got [%s, %s]", test.until, test.lo, test.hi, lo, hi)
		}
		for i := 0; i < 50; i++ {
			d := s.Interval(bidder.Standby, test.until, test.known)
			if d < lo || d > hi {
				t.Fatalf("until=%s: interval %s is out of [%s, %s]", test.until, d, lo, hi)
			}
		}
	}

	if d := s.Interval(bidder.Active, 0, false); d != 20*time.Millisecond {
		t.Fatalf("want 20ms burst interval, got %s", d)
	}
}

func TestSchedulerWaitWakes(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s, err := NewScheduler(&SchedulerOptions{Clock: clock})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	due := false
	wake := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return due
	}

	done := make(chan bool)
	go func() { done <- s.Wait(ctx, 3*time.Minute, wake) }()

	// Two slices pass without the activation being due.
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(500 * time.Millisecond)
	}
	clock.BlockUntil(1)
	mu.Lock()
	due = true
	mu.Unlock()
	clock.Advance(500 * time.Millisecond)

	select {
	case full := <-done:
		if full {
			t.Fatalf("want early wake up")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("want wait to return within a slice of activation")
	}
}

func TestControllerRunsUntilEnd(t *testing.T) {
	ctx := context.Background()

	// Opponent keeps outbidding us by one increment.
	p := &scriptPoller{obs: func(n int) *auction.Observation {
		return &auction.Observation{Amount: 100000 + int64(n)*10000, Bidder: "other"}
	}}
	sub := new(recordSubmitter)
	session := &bidder.Session{
		Lot:             "lot-1",
		MaxBudget:       10000000,
		Increment:       10000,
		Passkey:         "123456",
		OwnID:           "me",
		EndTime:         time.Now().Add(800 * time.Millisecond),
		SniperThreshold: 400 * time.Millisecond,
	}
	e, err := bidder.New(session, p, sub, clockwork.NewRealClock())
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(e, &Options{Scheduler: SchedulerOptions{
		ActiveInterval: 5 * time.Millisecond,
		StandbyMin:     20 * time.Millisecond,
		StandbyMax:     50 * time.Millisecond,
		Slice:          10 * time.Millisecond,
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx); err == nil {
		t.Fatalf("want error for a second start")
	}

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	if err := c.Wait(wctx); err != nil {
		t.Fatal(err)
	}

	s := c.Snapshot()
	if s.Mode != bidder.Stopped || !strings.Contains(s.StopReason, bidder.ErrAuctionEnded.Error()) {
		t.Fatalf("want stopped at auction end, got %s (%s)", s.Mode, s.StopReason)
	}
	if s.ActivatedAt.IsZero() || s.Bids == 0 {
		t.Fatalf("want activation and bids, got %+v", s)
	}
	if int(s.Bids) != len(sub.amounts) {
		t.Fatalf("want %d submits, got %d", s.Bids, len(sub.amounts))
	}
	if s.Requests != int64(p.calls*3)+s.Bids {
		t.Fatalf("want %d requests, got %d", p.calls*3+int(s.Bids), s.Requests)
	}
}

func TestControllerStop(t *testing.T) {
	ctx := context.Background()

	p := &scriptPoller{obs: func(n int) *auction.Observation {
		return &auction.Observation{Amount: 500000, Bidder: "me"}
	}}
	session := &bidder.Session{
		Lot:       "lot-1",
		MaxBudget: 1000000,
		Increment: 50000,
		Passkey:   "123456",
		OwnID:     "me",
	}
	e, err := bidder.New(session, p, new(recordSubmitter), clockwork.NewRealClock())
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(e, &Options{Scheduler: SchedulerOptions{ActiveInterval: time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	r, err := c.Subscribe(1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(); err != nil {
		t.Fatal(err)
	}

	errOperator := errors.New("stop requested by operator")
	c.Stop(errOperator)

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	err = c.Wait(wctx)
	if !errors.Is(err, bidder.ErrCanceled) || !job.IsCanceled(err) {
		t.Fatalf("want canceled session, got %v", err)
	}
	if s := c.Snapshot(); s.Mode != bidder.Stopped || !strings.Contains(s.StopReason, errOperator.Error()) {
		t.Fatalf("want stopped by operator, got %s (%s)", s.Mode, s.StopReason)
	}
}
