// Copyright (c) 2023 BVK Chaitanya

package ctxutil

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sleep blocks the caller for given timeout duration. Returns early if the
// input context is canceled.
func Sleep(ctx context.Context, d time.Duration) {
	sctx, scancel := context.WithTimeout(ctx, d)
	<-sctx.Done()
	scancel()
}

// Retry runs the input function till it succeeds or till the input context is
// canceled. Returns nil if the input function is successful or last non-nil
// error from the function after the context has expired.
func Retry(ctx context.Context, interval time.Duration, f func() error) (err error) {
	for err = f(); err != nil && context.Cause(ctx) == nil; err = f() {
		Sleep(ctx, interval)
	}
	return
}

// RetryTimeout is like Retry, but gives up after the input timeout.
func RetryTimeout(ctx context.Context, interval, timeout time.Duration, f func() error) error {
	sctx, scancel := context.WithTimeout(ctx, timeout)
	defer scancel()
	return Retry(sctx, interval, f)
}

// SleepSliced blocks the caller for the given duration on the input clock in
// slices of at most slice. Returns early, with false, when the input context is
// canceled or when wake returns true at a slice boundary. Returns true if the
// full duration has elapsed.
func SleepSliced(ctx context.Context, clock clockwork.Clock, d, slice time.Duration, wake func() bool) bool {
	deadline := clock.Now().Add(d)
	for {
		if ctx.Err() != nil {
			return false
		}
		if wake != nil && wake() {
			return false
		}
		left := deadline.Sub(clock.Now())
		if left <= 0 {
			return true
		}
		timer := clock.NewTimer(min(slice, left))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.Chan():
		}
	}
}
