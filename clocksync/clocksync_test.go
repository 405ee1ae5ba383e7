// Copyright (c) 2023 BVK Chaitanya

package clocksync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestClock(t *testing.T, handler http.HandlerFunc) (*Clock, *clockwork.FakeClock) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	local := clockwork.NewFakeClockAt(time.Date(2026, 1, 11, 6, 0, 0, 0, time.UTC))
	c, err := New(&Options{TimeURL: server.URL, LocalClock: local})
	if err != nil {
		t.Fatal(err)
	}
	return c, local
}

func TestSyncBody(t *testing.T) {
	ctx := context.Background()
	serverTime := time.Date(2026, 1, 11, 13, 3, 12, 967000000, WIB)

	c, local := newTestClock(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"time":%q}}`, serverTime.Format(time.RFC3339Nano))
	})

	if c.Synced() {
		t.Fatalf("want unsynced clock before Sync")
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.Synced() {
		t.Fatalf("want synced clock after Sync")
	}
	if c.Source() != "body" {
		t.Fatalf("want body source, got %q", c.Source())
	}

	// Fake local clock does not move during the request, so rtt is zero and
	// the offset is exact.
	want := serverTime.Sub(local.Now())
	if got, ok := c.Offset(); !ok || got != want {
		t.Fatalf("want offset %s, got %s (%v)", want, got, ok)
	}
	if got := c.Now(); !got.Equal(serverTime) {
		t.Fatalf("want now %s, got %s", serverTime, got)
	}

	// Repeated reads only move with the local clock.
	local.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(serverTime.Add(5 * time.Second)) {
		t.Fatalf("want now %s, got %s", serverTime.Add(5*time.Second), got)
	}
}

func TestSyncTopLevelTime(t *testing.T) {
	ctx := context.Background()

	c, _ := newTestClock(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"time":"2026-01-11 13:03:12"}`)
	})
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 11, 13, 3, 12, 0, WIB)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("want now %s, got %s", want, got)
	}
}

func TestSyncDateHeaderFallback(t *testing.T) {
	ctx := context.Background()
	header := time.Date(2026, 1, 11, 6, 30, 0, 0, time.UTC)

	c, local := newTestClock(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", header.Format(http.TimeFormat))
		fmt.Fprint(w, `{"data":{}}`)
	})
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Source() != "date-header" {
		t.Fatalf("want date-header source, got %q", c.Source())
	}
	if got, _ := c.Offset(); got != header.Sub(local.Now()) {
		t.Fatalf("want offset %s, got %s", header.Sub(local.Now()), got)
	}
	// Header instant is UTC; wall clock in the service zone is seven hours
	// ahead.
	if got := c.Now().In(WIB).Hour(); got != 13 {
		t.Fatalf("want 13 o'clock WIB, got %d", got)
	}
}

func TestSyncFailureKeepsOffset(t *testing.T) {
	ctx := context.Background()
	serverTime := time.Date(2026, 1, 11, 13, 0, 0, 0, WIB)

	var fail atomic.Bool
	c, _ := newTestClock(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.Header()["Date"] = nil
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprintf(w, `{"data":{"time":%q}}`, serverTime.Format(time.RFC3339))
	})

	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := c.Offset()

	fail.Store(true)
	if err := c.Sync(ctx); !errors.Is(err, ErrNoServerTime) {
		t.Fatalf("want ErrNoServerTime, got %v", err)
	}
	after, ok := c.Offset()
	if !ok || after != before {
		t.Fatalf("want offset %s to survive a failed sync, got %s (%v)", before, after, ok)
	}
}

func TestUnsyncedIsExplicit(t *testing.T) {
	ctx := context.Background()

	c, local := newTestClock(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := c.Sync(ctx); err == nil {
		t.Fatalf("want sync failure")
	}
	if c.Synced() {
		t.Fatalf("want unsynced clock")
	}
	if _, ok := c.Offset(); ok {
		t.Fatalf("want invalid offset")
	}
	if !c.Now().Equal(local.Now()) {
		t.Fatalf("want local time from an unsynced clock")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-11T13:03:12.967Z", time.Date(2026, 1, 11, 13, 3, 12, 967000000, time.UTC)},
		{"2026-01-11T13:03:12+07:00", time.Date(2026, 1, 11, 13, 3, 12, 0, WIB)},
		{"2026-01-11T13:03:12", time.Date(2026, 1, 11, 13, 3, 12, 0, WIB)},
		{"2026-01-11 13:03:12", time.Date(2026, 1, 11, 13, 3, 12, 0, WIB)},
		{"2026-01-11 13:03", time.Date(2026, 1, 11, 13, 3, 0, 0, WIB)},
	}
	for _, test := range tests {
		got, err := ParseTime(test.in, WIB)
		if err != nil {
			t.Fatalf("%q: %v", test.in, err)
		}
		if !got.Equal(test.want) {
			t.Fatalf("%q: want %s, got %s", test.in, test.want, got)
		}
	}
	if _, err := ParseTime("yesterday", WIB); err == nil {
		t.Fatalf("want parse error")
	}
}
