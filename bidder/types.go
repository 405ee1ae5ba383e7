// Copyright (c) 2023 BVK Chaitanya

package bidder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kucing007/lelang-cli/auction"
)

var (
	ErrAuctionEnded   = errors.New("auction ended")
	ErrBudgetExceeded = errors.New("next bid exceeds the budget")
	ErrCanceled       = errors.New("session canceled")
)

type Mode int

const (
	// Standby observes the ledger but never bids.
	Standby Mode = iota

	// Active bids whenever outbid.
	Active

	// Stopped is terminal.
	Stopped
)

var Modes = []string{"standby", "active", "stopped"}

func (m Mode) String() string {
	if m >= Standby && m <= Stopped {
		return Modes[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type Kind int

const (
	OK Kind = iota
	Retryable
	Terminal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Result is the outcome of a single tick. Err is nil only for OK.
type Result struct {
	Kind Kind
	Err  error
}

// Session is the immutable description of one bidding run.
type Session struct {
	Lot string

	MaxBudget int64
	Increment int64

	Passkey string

	// EndTime is the scheduled end of the auction. Zero value means the
	// session is unbounded.
	EndTime time.Time

	// OwnID is the operator's participant id used to recognize self bids on
	// the ledger. Empty disables self-bid detection.
	OwnID string

	// SniperThreshold defers bidding until the remaining time drops to the
	// threshold. Zero bids immediately.
	SniperThreshold time.Duration
}

func (s *Session) Check() error {
	if len(s.Lot) == 0 {
		return fmt.Errorf("lot id cannot be empty")
	}
	if s.MaxBudget <= 0 {
		return fmt.Errorf("max budget must be positive")
	}
	if s.Increment <= 0 {
		return fmt.Errorf("bid increment must be positive")
	}
	if len(s.Passkey) == 0 {
		return fmt.Errorf("passkey cannot be empty")
	}
	if s.SniperThreshold < 0 {
		return fmt.Errorf("sniper threshold cannot be negative")
	}
	if s.SniperThreshold > 0 && s.EndTime.IsZero() {
		return fmt.Errorf("sniper threshold requires an auction end time")
	}
	return nil
}

// Poller reads the latest ledger state.
type Poller interface {
	// Width is the number of requests issued by each Poll.
	Width() int

	Poll(ctx context.Context) (*auction.Observation, error)
}

type Submitter interface {
	Submit(ctx context.Context, amount int64) error
}

// Clock returns the server time estimate.
type Clock interface {
	Now() time.Time
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	Lot string

	Mode Mode

	ServerTime time.Time
	HasEnd     bool
	Remaining  time.Duration

	MaxBudget int64
	Increment int64

	LastAmount int64
	LastBidder string
	LastIsSelf bool

	OwnLast int64

	Polls    int64
	Requests int64
	Bids     int64
	Errors   int64

	LastLatency  time.Duration
	TotalLatency time.Duration

	LastError   string
	LastErrorAt time.Time

	StartedAt   time.Time
	ActivatedAt time.Time
	StoppedAt   time.Time

	// StopReason is set once the engine is Stopped.
	StopReason string
}

// AvgLatency returns the average observation latency of successful polls.
func (s *Snapshot) AvgLatency() time.Duration {
	if s.Polls == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Polls)
}
