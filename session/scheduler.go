// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/ctxutil"
)

type SchedulerOptions struct {
	// ActiveInterval is the fixed burst polling interval.
	ActiveInterval time.Duration

	// StandbyMin and StandbyMax bound the random standby interval.
	StandbyMin time.Duration
	StandbyMax time.Duration

	// Slice is the granularity at which sleeps observe cancellation and
	// activation.
	Slice time.Duration

	Clock clockwork.Clock
}

func (v *SchedulerOptions) setDefaults() {
	if v.ActiveInterval == 0 {
		v.ActiveInterval = 20 * time.Millisecond
	}
	if v.StandbyMin == 0 {
		v.StandbyMin = 60 * time.Second
	}
	if v.StandbyMax == 0 {
		v.StandbyMax = 180 * time.Second
	}
	if v.Slice == 0 {
		v.Slice = 500 * time.Millisecond
	}
	if v.Clock == nil {
		v.Clock = clockwork.NewRealClock()
	}
}

func (v *SchedulerOptions) Check() error {
	if v.ActiveInterval <= 0 {
		return fmt.Errorf("active interval must be positive")
	}
	if v.StandbyMin <= 0 || v.StandbyMax < v.StandbyMin {
		return fmt.Errorf("invalid standby interval range [%s, %s]", v.StandbyMin, v.StandbyMax)
	}
	if v.Slice <= 0 {
		return fmt.Errorf("sleep slice must be positive")
	}
	return nil
}

// Standby ceilings as the activation approaches.
const (
	nearActivation  = 5 * time.Minute
	nearCeiling     = 30 * time.Second
	closeActivation = time.Minute
	closeCeiling    = 5 * time.Second
)

// Scheduler picks the delay between ticks from the engine mode.
type Scheduler struct {
	opts SchedulerOptions
}

func NewScheduler(opts *SchedulerOptions) (*Scheduler, error) {
	if opts == nil {
		opts = new(SchedulerOptions)
	}
	opts.setDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}
	return &Scheduler{opts: *opts}, nil
}

// Bounds returns the standby interval range given the time until activation.
func (s *Scheduler) Bounds(untilActivation time.Duration, known bool) (lo, hi time.Duration) {
	hi = s.opts.StandbyMax
	if known {
		if untilActivation < nearActivation {
			hi = min(hi, nearCeiling)
		}
		if untilActivation < closeActivation {
			hi = min(hi, closeCeiling)
		}
	}
	lo = min(s.opts.StandbyMin, hi/2)
	return lo, hi
}

// Interval returns the delay before the next tick.
func (s *Scheduler) Interval(mode bidder.Mode, untilActivation time.Duration, known bool) time.Duration {
	if mode != bidder.Standby {
		return s.opts.ActiveInterval
	}
	lo, hi := s.Bounds(untilActivation, known)
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Wait sleeps for d in slices. It returns early when ctx is canceled or wake
// returns true.
func (s *Scheduler) Wait(ctx context.Context, d time.Duration, wake func() bool) bool {
	return ctxutil.SleepSliced(ctx, s.opts.Clock, d, s.opts.Slice, wake)
}
