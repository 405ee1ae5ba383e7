// Copyright (c) 2023 BVK Chaitanya

// Package bidder implements the bid/no-bid decision state machine.
//
// Engine moves through Standby, Active and Stopped modes. Each Tick polls the
// ledger once and submits at most one counter bid. Only the controller
// goroutine calls Tick; other goroutines may read Snapshot concurrently.
package bidder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/metrics"
)

type Engine struct {
	session Session

	poller    Poller
	submitter Submitter
	clock     Clock

	// mu guards state and stopErr. It is never held across network calls.
	mu sync.Mutex

	state   Snapshot
	stopErr error

	ownSeen       bool
	warnedOwnSeen bool
}

// New creates an engine in Active mode when the sniper threshold is zero and
// in Standby mode otherwise.
func New(session *Session, poller Poller, submitter Submitter, clock Clock) (*Engine, error) {
	if err := session.Check(); err != nil {
		return nil, err
	}
	e := &Engine{
		session:   *session,
		poller:    poller,
		submitter: submitter,
		clock:     clock,
	}
	now := clock.Now()
	e.state = Snapshot{
		Lot:        session.Lot,
		Mode:       Standby,
		MaxBudget:  session.MaxBudget,
		Increment:  session.Increment,
		HasEnd:     !session.EndTime.IsZero(),
		ServerTime: now,
		StartedAt:  now,
	}
	if session.SniperThreshold == 0 {
		e.state.Mode = Active
		e.state.ActivatedAt = now
	}
	if e.state.HasEnd {
		e.state.Remaining = max(session.EndTime.Sub(now), 0)
	}
	if len(session.OwnID) == 0 {
		slog.Warn("own participant id is not configured; self bids cannot be recognized and the engine may outbid itself")
	}
	metrics.SetMode(e.state.Mode.String(), Modes...)
	return e, nil
}

func (e *Engine) Session() Session {
	return e.session
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the reason the engine stopped, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopErr
}

// Remaining returns the time left until the auction end, clamped at zero. It
// returns false for unbounded sessions.
func (e *Engine) Remaining() (time.Duration, bool) {
	if e.session.EndTime.IsZero() {
		return 0, false
	}
	return max(e.session.EndTime.Sub(e.clock.Now()), 0), true
}

// UntilActivation returns the time left until Standby should turn Active. It
// returns false when the engine is not in Standby.
func (e *Engine) UntilActivation() (time.Duration, bool) {
	if e.Mode() != Standby {
		return 0, false
	}
	remaining, ok := e.Remaining()
	if !ok {
		return 0, false
	}
	return max(remaining-e.session.SniperThreshold, 0), true
}

// ActivationDue returns true when a Standby engine should turn Active or the
// auction has ended.
func (e *Engine) ActivationDue() bool {
	if e.Mode() != Standby {
		return false
	}
	remaining, ok := e.Remaining()
	return ok && remaining <= e.session.SniperThreshold
}

// Stop moves the engine to Stopped with the cancellation cause. Stopping a
// stopped engine has no effect.
func (e *Engine) Stop(cause error) {
	err := ErrCanceled
	if cause != nil && !errors.Is(cause, ErrCanceled) {
		err = fmt.Errorf("%w: %w", ErrCanceled, cause)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(err)
}

func (e *Engine) stopLocked(err error) {
	if e.state.Mode == Stopped {
		return
	}
	e.state.Mode = Stopped
	e.state.StoppedAt = e.clock.Now()
	e.state.StopReason = err.Error()
	e.stopErr = err
	metrics.SetMode(Stopped.String(), Modes...)
	slog.Info("bidding engine is stopped", "lot", e.session.Lot, "reason", err)
}

func (e *Engine) recordErrorLocked(err error) {
	e.state.Errors++
	e.state.LastError = err.Error()
	e.state.LastErrorAt = e.clock.Now()
}

// Seed applies the result of a ledger read taken outside of the tick loop,
// typically the initial read before the loop starts. It never submits. The
// read counts as a request unless it failed for want of a credential.
func (e *Engine) Seed(obs *auction.Observation, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !errors.Is(err, credential.ErrNotAuthenticated) {
		e.state.Requests++
	}
	if err == nil && obs != nil && obs.Amount > 0 {
		e.observeLocked(obs)
	}
}

// advance updates the time dependent state. It returns a terminal result when
// the engine is or becomes Stopped.
func (e *Engine) advance(ctx context.Context) (Result, bool) {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ServerTime = now
	if e.state.Mode != Stopped {
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrCanceled) {
				e.stopLocked(cause)
			} else {
				e.stopLocked(fmt.Errorf("%w: %w", ErrCanceled, cause))
			}
		} else if e.state.HasEnd {
			remaining := max(e.session.EndTime.Sub(now), 0)
			e.state.Remaining = remaining
			if remaining == 0 {
				e.stopLocked(ErrAuctionEnded)
			} else if e.state.Mode == Standby && remaining <= e.session.SniperThreshold {
				e.state.Mode = Active
				e.state.ActivatedAt = now
				metrics.SetMode(Active.String(), Modes...)
				slog.Info("sniper threshold is reached; bidding is active", "lot", e.session.Lot, "remaining", remaining)
			}
		}
	}
	if e.state.Mode == Stopped {
		return Result{Kind: Terminal, Err: e.stopErr}, true
	}
	return Result{}, false
}

func (e *Engine) observeLocked(obs *auction.Observation) bool {
	e.state.LastAmount = obs.Amount
	e.state.LastBidder = obs.Bidder
	metrics.LastBidAmount.Set(float64(obs.Amount))

	if len(e.session.OwnID) == 0 {
		e.state.LastIsSelf = false
		return false
	}

	if obs.OwnFound {
		e.ownSeen = true
		if obs.OwnAmount > e.state.OwnLast {
			e.state.OwnLast = obs.OwnAmount
			metrics.OwnBidAmount.Set(float64(obs.OwnAmount))
		}
	} else if !e.ownSeen && !e.warnedOwnSeen && e.state.Bids > 0 {
		e.warnedOwnSeen = true
		slog.Warn("own participant id does not appear on the ledger after a successful bid; self-bid detection may not work", "own-id", e.session.OwnID, "latest-bidder", obs.Bidder)
	}

	e.state.LastIsSelf = obs.Bidder == e.session.OwnID
	return e.state.LastIsSelf
}

// Tick runs one poll and, when eligible, one bid submission.
func (e *Engine) Tick(ctx context.Context) Result {
	if r, stop := e.advance(ctx); stop {
		return r
	}

	obs, err := e.poller.Poll(ctx)

	e.mu.Lock()
	if !errors.Is(err, credential.ErrNotAuthenticated) {
		e.state.Requests += int64(e.poller.Width())
	}
	if err != nil {
		if ctx.Err() != nil {
			e.mu.Unlock()
			r, _ := e.advance(ctx)
			return r
		}
		e.recordErrorLocked(err)
		e.mu.Unlock()
		return Result{Kind: Retryable, Err: err}
	}

	e.state.Polls++
	e.state.LastLatency = obs.Latency
	e.state.TotalLatency += obs.Latency

	if obs.Amount <= 0 {
		e.mu.Unlock()
		return Result{Kind: OK}
	}

	isSelf := e.observeLocked(obs)
	eligible := e.state.Mode == Active && !isSelf && obs.Amount >= e.state.OwnLast
	if !eligible {
		e.mu.Unlock()
		return Result{Kind: OK}
	}

	// Compared before adding so that huge ledger amounts cannot wrap around.
	if obs.Amount > e.session.MaxBudget-e.session.Increment {
		err := fmt.Errorf("next bid after %d is over max budget %d: %w", obs.Amount, e.session.MaxBudget, ErrBudgetExceeded)
		e.stopLocked(err)
		e.mu.Unlock()
		return Result{Kind: Terminal, Err: err}
	}
	next := obs.Amount + e.session.Increment
	e.mu.Unlock()

	// Poll may have taken long enough for the auction to end.
	if r, stop := e.advance(ctx); stop {
		return r
	}

	slog.Info("outbid; submitting a counter bid", "lot", e.session.Lot, "observed", obs.Amount, "bidder", obs.Bidder, "next", next)
	// A submission in flight is not interrupted by a stop; the client timeout
	// bounds it.
	err = e.submitter.Submit(context.WithoutCancel(ctx), next)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Requests++
	if err != nil {
		e.recordErrorLocked(err)
		return Result{Kind: Retryable, Err: err}
	}
	if next > e.state.OwnLast {
		e.state.OwnLast = next
		metrics.OwnBidAmount.Set(float64(next))
	}
	e.state.Bids++
	return Result{Kind: OK}
}
