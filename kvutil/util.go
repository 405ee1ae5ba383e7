// Copyright (c) 2023 BVK Chaitanya

// Package kvutil stores gob-encoded records in a kv.Database.
package kvutil

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/bvkgo/kv"
)

func Get[T any](ctx context.Context, g kv.Getter, key string) (*T, error) {
	value, err := g.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("could not Get from %q: %w", key, err)
	}
	gv := new(T)
	if err := gob.NewDecoder(value).Decode(gv); err != nil {
		return nil, fmt.Errorf("could not gob-decode value at key %q: %w", key, err)
	}
	return gv, nil
}

func Set[T any](ctx context.Context, s kv.Setter, key string, value *T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("could not gob-encode value for key %q: %w", key, err)
	}
	return s.Set(ctx, key, &buf)
}

func GetDB[T any](ctx context.Context, db kv.Database, key string) (value *T, err error) {
	err = kv.WithReader(ctx, db, func(ctx context.Context, r kv.Reader) error {
		value, err = Get[T](ctx, r, key)
		return err
	})
	return value, err
}

func SetDB[T any](ctx context.Context, db kv.Database, key string, value *T) error {
	return kv.WithReadWriter(ctx, db, func(ctx context.Context, rw kv.ReadWriter) error {
		return Set[T](ctx, rw, key, value)
	})
}

// DeleteDB removes a key. Missing keys are not an error.
func DeleteDB(ctx context.Context, db kv.Database, key string) error {
	return kv.WithReadWriter(ctx, db, func(ctx context.Context, rw kv.ReadWriter) error {
		if err := rw.Delete(ctx, key); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not delete key %q: %w", key, err)
		}
		return nil
	})
}

// IsGoodKey returns true for absolute, clean paths. Databases are opened with
// this key checker.
func IsGoodKey(k string) bool {
	return path.IsAbs(k) && k == path.Clean(k)
}
