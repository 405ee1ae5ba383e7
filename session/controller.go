// Copyright (c) 2023 BVK Chaitanya

// Package session drives a bidding engine from start to stop.
//
// Controller runs the tick loop in a background job, sleeps between ticks as
// told by the Scheduler and publishes a bidder.Snapshot after every tick.
// Display, Notifier and the status endpoints consume the snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/job"
	"github.com/visvasity/topic"
)

type Options struct {
	Scheduler SchedulerOptions

	// RunID identifies the session in logs and notifications. A random id is
	// used when empty.
	RunID string
}

type Controller struct {
	opts Options

	engine *bidder.Engine

	sched *Scheduler

	snapshots *topic.Topic[bidder.Snapshot]

	mu sync.Mutex

	job *job.Job

	startedAt time.Time
}

func New(engine *bidder.Engine, opts *Options) (*Controller, error) {
	if opts == nil {
		opts = new(Options)
	}
	if len(opts.RunID) == 0 {
		opts.RunID = uuid.New().String()
	}
	sched, err := NewScheduler(&opts.Scheduler)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		opts:      *opts,
		engine:    engine,
		sched:     sched,
		snapshots: topic.New[bidder.Snapshot](),
	}
	return c, nil
}

// Close stops the session if it is running and closes all subscriptions.
func (c *Controller) Close() error {
	c.Stop(os.ErrClosed)
	c.mu.Lock()
	j := c.job
	c.mu.Unlock()
	if j != nil {
		<-j.Done()
	}
	c.snapshots.Close()
	return nil
}

func (c *Controller) RunID() string {
	return c.opts.RunID
}

func (c *Controller) Engine() *bidder.Engine {
	return c.engine
}

func (c *Controller) Snapshot() bidder.Snapshot {
	return c.engine.Snapshot()
}

// Subscribe returns a receiver for the snapshots published after every tick.
// Limit has the same meaning as in topic.Subscribe.
func (c *Controller) Subscribe(limit int) (*topic.Receiver[bidder.Snapshot], error) {
	return topic.Subscribe(c.snapshots, limit, true /* includeLast */)
}

// Start runs the tick loop in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil {
		return fmt.Errorf("session is already started: %w", os.ErrExist)
	}
	c.startedAt = time.Now()
	c.job = job.Run(c.Run, ctx)
	return nil
}

// Stop asks the session to stop with the input reason. Engine moves to
// Stopped immediately; the loop returns at the next slice boundary.
func (c *Controller) Stop(cause error) {
	// Job context must be canceled before the engine stops so that the loop
	// reports a cancellation.
	c.mu.Lock()
	j := c.job
	c.mu.Unlock()
	if j != nil {
		j.CancelCause(cause)
	}

	c.engine.Stop(cause)
}

// Done returns a channel that is closed when the background loop returns. It
// returns nil if the session is not started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil {
		return nil
	}
	return c.job.Done()
}

// Wait blocks till the background loop returns and returns its error.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	j := c.job
	c.mu.Unlock()

	if j == nil {
		return fmt.Errorf("session is not started")
	}
	if err := j.Wait(ctx); err != nil {
		return err
	}
	return j.Err()
}

// Uptime returns the time since Start.
func (c *Controller) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt)
}

func (c *Controller) publish() {
	if err := c.snapshots.Send(c.engine.Snapshot()); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("could not publish session snapshot", "err", err)
	}
}

// Run drives the engine till it stops. It returns nil when the auction ended
// or the budget ran out, and the cancellation error otherwise.
func (c *Controller) Run(ctx context.Context) error {
	s := c.engine.Session()
	slog.Info("bidding session is started", "run-id", c.opts.RunID, "lot", s.Lot, "mode", c.engine.Mode(),
		"max-budget", s.MaxBudget, "increment", s.Increment, "sniper", s.SniperThreshold, "end", s.EndTime)

	c.publish()

	var lastErr string
	for {
		r := c.engine.Tick(ctx)
		c.publish()

		if r.Kind == bidder.Terminal {
			break
		}
		if r.Kind == bidder.Retryable {
			// Burst polling repeats the same failure many times a second.
			if msg := r.Err.Error(); msg != lastErr {
				lastErr = msg
				if !errors.Is(r.Err, context.Canceled) {
					slog.Warn("tick failed (will retry)", "run-id", c.opts.RunID, "err", r.Err)
				}
			}
		} else {
			lastErr = ""
		}

		until, known := c.engine.UntilActivation()
		d := c.sched.Interval(c.engine.Mode(), until, known)
		c.sched.Wait(ctx, d, c.engine.ActivationDue)
	}

	err := c.engine.Err()
	slog.Info("bidding session is stopped", "run-id", c.opts.RunID, "lot", s.Lot, "reason", err)
	if errors.Is(err, bidder.ErrCanceled) {
		if ctx.Err() != nil {
			return errors.Join(err, context.Cause(ctx))
		}
		return err
	}
	return nil
}
