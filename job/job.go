// Copyright (c) 2023 BVK Chaitanya

// Package job implements an api to manage jobs. Jobs are activities that run
// in the background and can be canceled through the context.Context argument.
package job

import (
	"context"
	"errors"
	"sync"
)

type State string

const (
	RUNNING   State = "RUNNING"
	COMPLETED State = "COMPLETED"
	CANCELED  State = "CANCELED"
	FAILED    State = "FAILED"
)

type Func func(ctx context.Context) error

var errCancel = errors.New("job canceled")

// cancelError marks a cancellation cause as a job cancellation while keeping
// the cause's message.
type cancelError struct {
	cause error
}

func (e *cancelError) Error() string {
	return e.cause.Error()
}

func (e *cancelError) Unwrap() []error {
	return []error{errCancel, e.cause}
}

type Job struct {
	cancel context.CancelCauseFunc

	done chan struct{}

	mu sync.Mutex

	state State

	err error
}

// Run starts the job function in a goroutine.
func Run(f Func, ctx context.Context) *Job {
	jctx, jcancel := context.WithCancelCause(ctx)
	j := &Job{
		cancel: jcancel,
		done:   make(chan struct{}),
		state:  RUNNING,
	}
	go j.goRun(jctx, f)
	return j
}

func (j *Job) goRun(ctx context.Context, f Func) {
	defer close(j.done)

	err := f(ctx)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.err = err
	switch {
	case err == nil:
		j.state = COMPLETED
	case ctx.Err() != nil && errors.Is(err, context.Cause(ctx)):
		j.state = CANCELED
	default:
		j.state = FAILED
	}
	j.cancel(nil)
}

// Cancel asks the job to stop. It does not wait for the job to return.
func (j *Job) Cancel() {
	j.cancel(errCancel)
}

// CancelCause is like Cancel, but records the reason in the job context
// cause.
func (j *Job) CancelCause(cause error) {
	if cause == nil {
		j.cancel(errCancel)
		return
	}
	j.cancel(&cancelError{cause: cause})
}

// Wait blocks till the job returns or the input context is canceled.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-j.done:
		return nil
	}
}

// Done returns a channel that is closed when the job function returns.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the error returned by the job function.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func IsCanceled(err error) bool {
	return errors.Is(err, errCancel)
}
