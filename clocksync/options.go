// Copyright (c) 2023 BVK Chaitanya

package clocksync

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// TimeURL is the public server time endpoint of the auction service.
	TimeURL = url.URL{
		Scheme: "https",
		Host:   "api.lelang.go.id",
		Path:   "/api/v1/servertime",
	}

	// WIB is the fixed time zone the auction service reports wall clock
	// timestamps in.
	WIB = time.FixedZone("WIB", 7*60*60)
)

type Options struct {
	// TimeURL overrides the server time endpoint.
	TimeURL string

	// Timeout to use for the server time request.
	HttpClientTimeout time.Duration

	// Location is used for timestamps without zone information and for the
	// HTTP Date header fallback.
	Location *time.Location

	// MaxTimeAdjustment is the offset above which a warning is logged.
	MaxTimeAdjustment time.Duration

	// LocalClock is the local time source. Tests use a fake clock.
	LocalClock clockwork.Clock
}

func (v *Options) setDefaults() {
	if v.TimeURL == "" {
		v.TimeURL = TimeURL.String()
	}
	if v.HttpClientTimeout == 0 {
		v.HttpClientTimeout = 5 * time.Second
	}
	if v.Location == nil {
		v.Location = WIB
	}
	if v.MaxTimeAdjustment == 0 {
		v.MaxTimeAdjustment = time.Minute
	}
	if v.LocalClock == nil {
		v.LocalClock = clockwork.NewRealClock()
	}
}

// Check validates the options.
func (v *Options) Check() error {
	u, err := url.Parse(v.TimeURL)
	if err != nil {
		return fmt.Errorf("could not parse time url %q: %w", v.TimeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("time url %q must use http or https", v.TimeURL)
	}
	if v.HttpClientTimeout < 0 {
		return fmt.Errorf("http client timeout cannot be negative")
	}
	return nil
}
