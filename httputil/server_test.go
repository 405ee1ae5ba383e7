// Copyright (c) 2023 BVK Chaitanya

package httputil

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/kucing007/lelang-cli/metrics"
)

func get(t *testing.T, addr *net.TCPAddr, path string) (int, string) {
	resp, err := http.Get("http://" + addr.String() + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func TestServer(t *testing.T) {
	ctx := context.Background()

	s, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	type status struct {
		Lot  string
		Bids int
	}
	s.AddHandler("/status", JSONHandler(func() *status { return &status{Lot: "LOT-42", Bids: 3} }))
	s.AddDebugHandlers()

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	id, err := s.StartTCP(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Port == 0 {
		t.Fatalf("want chosen port to be filled in")
	}

	code, body := get(t, addr, "/status")
	var got status
	if err := json.Unmarshal([]byte(body), &got); err != nil || code != http.StatusOK {
		t.Fatalf("want json status, got %d %q (%v)", code, body, err)
	}
	if got.Lot != "LOT-42" || got.Bids != 3 {
		t.Fatalf("unexpected status %+v", got)
	}

	if code, body := get(t, addr, "/pid"); code != http.StatusOK {
		t.Fatalf("want pid, got %d", code)
	} else if _, err := strconv.Atoi(strings.TrimSpace(body)); err != nil {
		t.Fatalf("want numeric pid, got %q", body)
	}

	metrics.Requests.WithLabelValues("poll").Inc()
	if _, body := get(t, addr, "/metrics"); !strings.Contains(body, "lelang_requests_total") {
		t.Fatalf("want lelang metrics in the exposition")
	}

	if !s.RemoveHandler("/status") || s.RemoveHandler("/status") {
		t.Fatalf("want remove to succeed exactly once")
	}
	if code, _ := get(t, addr, "/status"); code != http.StatusNotFound {
		t.Fatalf("want 404 after removal, got %d", code)
	}

	if err := s.Stop(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(id); err == nil {
		t.Fatalf("want error for stopping twice")
	}
}
