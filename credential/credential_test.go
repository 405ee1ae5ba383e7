// Copyright (c) 2023 BVK Chaitanya

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bvkgo/kv/kvmemdb"
	"github.com/jonboulle/clockwork"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func signedToken(t *testing.T, exp time.Time) string {
	key := jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}
	signer, err := jose.NewSigner(key, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	claims := jwt.Claims{
		Subject: "peserta",
		Expiry:  jwt.NewNumericDate(exp),
	}
	s, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	if _, err := Static("").Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated, got %v", err)
	}
	if v, err := Static("abc").Token(ctx); err != nil || v != "abc" {
		t.Fatalf("want abc, got %q (%v)", v, err)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Date(2026, 1, 11, 7, 0, 0, 0, time.UTC)
	got, ok := Expiry(signedToken(t, exp))
	if !ok {
		t.Fatalf("want expiry from a jwt")
	}
	if !got.Equal(exp) {
		t.Fatalf("want %s, got %s", exp, got)
	}
	if _, ok := Expiry("opaque-token"); ok {
		t.Fatalf("want no expiry from an opaque token")
	}
}

func TestStorePersists(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	s, err := NewStore(ctx, db, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated, got %v", err)
	}
	if err := s.Set(ctx, "", "r1"); err == nil {
		t.Fatalf("want error for an empty access token")
	}
	if err := s.Set(ctx, "a1", "r1"); err != nil {
		t.Fatal(err)
	}

	// A second store over the same database sees the saved credential.
	s2, err := NewStore(ctx, db, "default")
	if err != nil {
		t.Fatal(err)
	}
	if v, err := s2.Token(ctx); err != nil || v != "a1" {
		t.Fatalf("want a1, got %q (%v)", v, err)
	}

	if err := s2.update(ctx, "a2", ""); err != nil {
		t.Fatal(err)
	}
	cur := s2.Get()
	if cur.AccessToken != "a2" || cur.RefreshToken != "r1" || cur.Refreshes != 1 {
		t.Fatalf("want {a2 r1 1}, got {%s %s %d}", cur.AccessToken, cur.RefreshToken, cur.Refreshes)
	}

	if err := s2.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	s3, err := NewStore(ctx, db, "default")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s3.Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated after clear, got %v", err)
	}
}

func newTestRefresher(t *testing.T, store *Store, handler http.HandlerFunc) *Refresher {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	r, err := NewRefresher(store, &RefresherOptions{
		RefreshURL: server.URL,
		Clock:      clockwork.NewFakeClockAt(time.Date(2026, 1, 11, 6, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		response string
	}{
		{"top-level", `{"token":"a2","refresh_token":"r2"}`},
		{"nested", `{"success":true,"data":{"token":"a2","refresh_token":"r2"}}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store, err := NewStore(ctx, kvmemdb.New(), "")
			if err != nil {
				t.Fatal(err)
			}
			if err := store.Set(ctx, "a1", "r1"); err != nil {
				t.Fatal(err)
			}

			r := newTestRefresher(t, store, func(w http.ResponseWriter, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "Bearer a1" {
					t.Errorf("want bearer a1, got %q", got)
				}
				var body struct {
					RefreshToken string `json:"refresh_token"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.RefreshToken != "r1" {
					t.Errorf("want refresh token r1, got %q (%v)", body.RefreshToken, err)
				}
				fmt.Fprint(w, test.response)
			})
			if err := r.Refresh(ctx); err != nil {
				t.Fatal(err)
			}
			cur := store.Get()
			if cur.AccessToken != "a2" || cur.RefreshToken != "r2" {
				t.Fatalf("want {a2 r2}, got {%s %s}", cur.AccessToken, cur.RefreshToken)
			}
		})
	}
}

func TestRefreshFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, kvmemdb.New(), "")
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	r := newTestRefresher(t, store, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := r.Refresh(ctx); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("want ErrNoRefreshToken, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("want no request without a refresh token")
	}

	if err := store.Set(ctx, "a1", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Refresh(ctx); err == nil {
		t.Fatalf("want refresh error")
	}
	if v, _ := store.Token(ctx); v != "a1" {
		t.Fatalf("want a1 to survive a failed refresh, got %q", v)
	}
}

func TestNextIntervalHonorsExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, kvmemdb.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	r := newTestRefresher(t, store, func(w http.ResponseWriter, req *http.Request) {})

	for i := 0; i < 100; i++ {
		d := r.nextInterval()
		if d < 30*time.Second || d > 240*time.Second {
			t.Fatalf("want interval in [30s, 240s], got %s", d)
		}
	}

	now := r.opts.Clock.Now()
	if err := store.Set(ctx, signedToken(t, now.Add(90*time.Second)), "r1"); err != nil {
		t.Fatal(err)
	}
	// Expiry margin is one minute, so refresh is due in thirty seconds.
	if d := r.nextInterval(); d != 30*time.Second {
		t.Fatalf("want 30s, got %s", d)
	}

	if err := store.Set(ctx, signedToken(t, now.Add(-time.Hour)), "r1"); err != nil {
		t.Fatal(err)
	}
	if d := r.nextInterval(); d != time.Second {
		t.Fatalf("want 1s for an expired token, got %s", d)
	}
}

func TestKickRefreshes(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, kvmemdb.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "a1", "r1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{}, 1)
	r := newTestRefresher(t, store, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"token":"a2"}`)
		select {
		case done <- struct{}{}:
		default:
		}
	})
	r.Start()
	defer r.Close()

	r.Kick()
	r.Kick() // never blocks

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("want a refresh after Kick")
	}
	// The handler signals before the response is processed.
	for i := 0; i < 100 && store.Get().AccessToken != "a2"; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if v := store.Get().AccessToken; v != "a2" {
		t.Fatalf("want a2, got %q", v)
	}
}
