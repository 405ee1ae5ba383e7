// Copyright (c) 2023 BVK Chaitanya

package ctxutil

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
)

// CloseGroup runs background goroutines with a shared context that is canceled
// when the group is closed. Goroutines can read the close reason with
// context.Cause. Zero value is ready to use.
type CloseGroup struct {
	closeCtx  context.Context
	causeFunc context.CancelCauseFunc

	wg sync.WaitGroup

	once sync.Once
}

func (cg *CloseGroup) init() {
	cg.closeCtx, cg.causeFunc = context.WithCancelCause(context.Background())
}

// Close is the same as CloseCause with os.ErrClosed.
func (cg *CloseGroup) Close() {
	cg.CloseCause(os.ErrClosed)
}

// CloseCause cancels the group context with the cause and waits for all
// goroutines to return. Only the first cause is kept; nil is treated as
// os.ErrClosed.
func (cg *CloseGroup) CloseCause(cause error) {
	cg.once.Do(cg.init)
	if cause == nil {
		cause = os.ErrClosed
	}
	cg.causeFunc(cause)
	cg.wg.Wait()
}

// Cause returns the close reason or nil if the group is not closed yet.
func (cg *CloseGroup) Cause() error {
	cg.once.Do(cg.init)
	return context.Cause(cg.closeCtx)
}

func (cg *CloseGroup) Context() context.Context {
	cg.once.Do(cg.init)
	return cg.closeCtx
}

func (cg *CloseGroup) Go(f func(ctx context.Context)) {
	cg.once.Do(cg.init)

	cg.wg.Add(1)
	go func() {
		defer cg.wg.Done()
		f(cg.closeCtx)
	}()
}

// GoErr runs f in the background and logs its error with the name. Errors
// caused by closing the group are not logged.
func (cg *CloseGroup) GoErr(name string, f func(ctx context.Context) error) {
	cg.Go(func(ctx context.Context) {
		err := f(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if cause := context.Cause(ctx); cause != nil && errors.Is(err, cause) {
			return
		}
		slog.Error("background task has failed", "task", name, "err", err)
	})
}
