// Copyright (c) 2023 BVK Chaitanya

package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recorder struct {
	msgs []string
	err  error
}

func (r *recorder) SendMessage(ctx context.Context, at time.Time, msg string) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	errDown := errors.New("down")
	a, b := new(recorder), &recorder{err: errDown}

	m := Multi{a, b, Log{}}
	if err := m.SendMessage(ctx, time.Now(), "hello"); !errors.Is(err, errDown) {
		t.Fatalf("want errDown, got %v", err)
	}
	if len(a.msgs) != 1 || len(b.msgs) != 1 {
		t.Fatalf("want one message per messenger, got %d and %d", len(a.msgs), len(b.msgs))
	}
}
