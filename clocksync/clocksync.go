// Copyright (c) 2023 BVK Chaitanya

// Package clocksync estimates the offset between the local clock and the
// auction service clock.
//
// A single request is timed on the local clock and the server's reported
// timestamp is assumed to correspond to the middle of the round trip. Until a
// Sync succeeds the Clock reports itself as unsynced and Now returns plain
// local time.
package clocksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kucing007/lelang-cli/metrics"
)

// ErrNoServerTime is returned when neither the response body nor the Date
// header carry a usable timestamp.
var ErrNoServerTime = errors.New("no usable server time in response")

type Clock struct {
	opts Options

	client http.Client

	mu sync.RWMutex

	offset   time.Duration
	rtt      time.Duration
	synced   bool
	syncedAt time.Time
	source   string
}

// New creates an unsynced clock.
func New(opts *Options) (*Clock, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}
	c := &Clock{
		opts: *opts,
		client: http.Client{
			Timeout: opts.HttpClientTimeout,
		},
	}
	return c, nil
}

// Sync measures the server time offset with one request. On failure the
// previous offset, if any, remains in effect.
func (c *Clock) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.TimeURL, nil)
	if err != nil {
		return fmt.Errorf("could not create server time request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	t0 := c.opts.LocalClock.Now()
	resp, err := c.client.Do(req)
	t1 := c.opts.LocalClock.Now()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not fetch server time", "url", c.opts.TimeURL, "err", err)
		}
		return fmt.Errorf("could not fetch server time: %w", err)
	}
	defer resp.Body.Close()

	rtt := t1.Sub(t0)
	estimate := t0.Add(rtt / 2)

	source := "body"
	var server time.Time
	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err == nil {
			server, err = parseBody(body, c.opts.Location)
		}
		if err != nil {
			slog.Warn("server time body is not usable; trying date header", "err", err)
		}
	} else {
		slog.Warn("server time request returned unsuccessful status code", "status-code", resp.StatusCode)
	}
	if server.IsZero() {
		source = "date-header"
		v := resp.Header.Get("Date")
		if len(v) == 0 {
			return ErrNoServerTime
		}
		t, err := http.ParseTime(v)
		if err != nil {
			return fmt.Errorf("could not parse date header %q: %w", v, errors.Join(ErrNoServerTime, err))
		}
		server = t.In(c.opts.Location)
	}

	offset := server.Sub(estimate)
	if offset > c.opts.MaxTimeAdjustment || -offset > c.opts.MaxTimeAdjustment {
		slog.Warn("local time is out of sync by a large amount", "offset", offset)
	}

	c.mu.Lock()
	c.offset, c.rtt, c.synced, c.syncedAt, c.source = offset, rtt, true, t1, source
	c.mu.Unlock()
	metrics.ClockOffset.Set(offset.Seconds())

	slog.Info("synchronized with the server time", "offset", offset, "rtt", rtt, "source", source)
	return nil
}

// Now returns the current server time estimate. Result is plain local time
// when the clock is not synced.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.LocalClock.Now().Add(c.offset)
}

// Synced returns true if at least one Sync has succeeded.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Offset returns the last measured offset and whether it is valid.
func (c *Clock) Offset() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}

// RoundTrip returns the round-trip time of the last successful Sync.
func (c *Clock) RoundTrip() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtt
}

// Source returns "body" or "date-header" depending on where the last
// successful Sync found the server time.
func (c *Clock) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Location returns the service time zone.
func (c *Clock) Location() *time.Location {
	return c.opts.Location
}

func parseBody(body []byte, loc *time.Location) (time.Time, error) {
	type Data struct {
		Time string `json:"time"`
	}
	type Response struct {
		Data *Data  `json:"data"`
		Time string `json:"time"`
	}
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return time.Time{}, fmt.Errorf("could not unmarshal server time response: %w", err)
	}
	s := r.Time
	if r.Data != nil && len(r.Data.Time) != 0 {
		s = r.Data.Time
	}
	if len(s) == 0 {
		return time.Time{}, ErrNoServerTime
	}
	return ParseTime(s, loc)
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseTime parses timestamps produced by the auction service. RFC3339
// timestamps keep their zone; timestamps without zone are interpreted in the
// input location.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp %q", s)
}
