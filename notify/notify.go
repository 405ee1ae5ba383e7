// Copyright (c) 2023 BVK Chaitanya

// Package notify defines the interface shared by notification targets.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Messenger delivers a short text message. Both telegram.Client and
// pushover.Client implement it.
type Messenger interface {
	SendMessage(ctx context.Context, at time.Time, msg string) error
}

// Multi sends every message to all of its messengers.
type Multi []Messenger

func (m Multi) SendMessage(ctx context.Context, at time.Time, msg string) error {
	var errs []error
	for _, v := range m {
		if err := v.SendMessage(ctx, at, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log is a Messenger that writes messages to the log only.
type Log struct{}

func (Log) SendMessage(ctx context.Context, at time.Time, msg string) error {
	slog.Info("notification", "at", at, "message", msg)
	return nil
}
