// Copyright (c) 2023 BVK Chaitanya

package ctxutil

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
)

func TestCloseGroupWaits(t *testing.T) {
	var cg CloseGroup

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		cg.Go(func(ctx context.Context) {
			<-ctx.Done()
			done.Add(1)
		})
	}
	if err := cg.Cause(); err != nil {
		t.Fatalf("want nil cause while open, got %v", err)
	}

	cg.Close()
	if n := done.Load(); n != 10 {
		t.Fatalf("want 10 goroutines done, got %d", n)
	}
	if err := cg.Cause(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("want os.ErrClosed, got %v", err)
	}
}

func TestCloseGroupCause(t *testing.T) {
	var cg CloseGroup

	stopped := errors.New("stopped over telegram")
	seen := make(chan error, 1)
	cg.Go(func(ctx context.Context) {
		<-ctx.Done()
		seen <- context.Cause(ctx)
	})

	cg.CloseCause(stopped)
	if err := <-seen; !errors.Is(err, stopped) {
		t.Fatalf("want goroutine to see %v, got %v", stopped, err)
	}

	// First cause wins.
	cg.CloseCause(errors.New("later"))
	if err := cg.Cause(); !errors.Is(err, stopped) {
		t.Fatalf("want %v, got %v", stopped, err)
	}

	var nilGroup CloseGroup
	nilGroup.CloseCause(nil)
	if err := nilGroup.Cause(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("want os.ErrClosed for a nil cause, got %v", err)
	}
}

func TestCloseGroupGoErr(t *testing.T) {
	var cg CloseGroup

	var ran atomic.Int32
	cg.GoErr("cause", func(ctx context.Context) error {
		<-ctx.Done()
		ran.Add(1)
		return context.Cause(ctx)
	})
	cg.GoErr("failing", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("boom")
	})
	cg.CloseCause(errors.New("done"))
	if n := ran.Load(); n != 2 {
		t.Fatalf("want 2 tasks run, got %d", n)
	}
}
