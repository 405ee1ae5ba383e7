// Copyright (c) 2023 BVK Chaitanya

package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/bvkgo/kv"
	"github.com/kucing007/lelang-cli/gobs"
	"github.com/kucing007/lelang-cli/kvutil"
)

// Store keeps the operator credential in the database and serves it from
// memory.
type Store struct {
	db  kv.Database
	key string

	mu  sync.RWMutex
	cur gobs.Credential
}

// NewStore loads the named credential. A missing record is not an error;
// Token reports ErrNotAuthenticated until Update is called.
func NewStore(ctx context.Context, db kv.Database, name string) (*Store, error) {
	if len(name) == 0 {
		name = "default"
	}
	s := &Store{
		db:  db,
		key: path.Join("/credentials", name),
	}
	v, err := kvutil.GetDB[gobs.Credential](ctx, db, s.key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not load credential: %w", err)
		}
		return s, nil
	}
	s.cur = *v
	return s, nil
}

func (s *Store) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.cur.AccessToken) == 0 {
		return "", ErrNotAuthenticated
	}
	return s.cur.AccessToken, nil
}

// Get returns a copy of the current credential.
func (s *Store) Get() gobs.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the credential with manually supplied tokens.
func (s *Store) Set(ctx context.Context, access, refresh string) error {
	if len(access) == 0 {
		return fmt.Errorf("access token cannot be empty: %w", os.ErrInvalid)
	}
	v := gobs.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		UpdatedAt:    time.Now(),
	}
	return s.save(ctx, &v)
}

// update stores a refreshed token pair. An empty refresh token keeps the
// previous one.
func (s *Store) update(ctx context.Context, access, refresh string) error {
	v := s.Get()
	v.AccessToken = access
	if len(refresh) != 0 {
		v.RefreshToken = refresh
	}
	v.UpdatedAt = time.Now()
	v.Refreshes++
	return s.save(ctx, &v)
}

func (s *Store) save(ctx context.Context, v *gobs.Credential) error {
	if err := kvutil.SetDB(ctx, s.db, s.key, v); err != nil {
		return fmt.Errorf("could not save credential: %w", err)
	}
	s.mu.Lock()
	s.cur = *v
	s.mu.Unlock()
	return nil
}

// Clear removes the credential from the database.
func (s *Store) Clear(ctx context.Context) error {
	if err := kvutil.DeleteDB(ctx, s.db, s.key); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = gobs.Credential{}
	s.mu.Unlock()
	return nil
}
