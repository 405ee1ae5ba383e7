// Copyright (c) 2023 BVK Chaitanya

package auction

import (
	"fmt"
	"net/url"
	"time"
)

var (
	BiddingURL = url.URL{
		Scheme: "https",
		Host:   "bidding.lelang.go.id",
		Path:   "/api/v1",
	}

	APIURL = url.URL{
		Scheme: "https",
		Host:   "api.lelang.go.id",
		Path:   "/api/v1",
	}
)

type Options struct {
	// URLs for the bidding and the general api service endpoints.
	BiddingURL string
	APIURL     string

	// Per request timeouts. All of them must be shorter than the standby tick
	// so that abandoned race branches cannot pile up.
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	HttpClientTimeout     time.Duration

	MaxIdleConnsPerHost int
	MaxConnsPerHost     int

	// RequestsPerSecond limits the rate of all requests issued by the
	// client. Zero means unlimited.
	RequestsPerSecond float64
	RequestsBurst     int

	// OnUnauthorized, when non-nil, is called every time the service rejects
	// the bearer credential with http status 401.
	OnUnauthorized func()
}

func (v *Options) setDefaults() {
	if v.BiddingURL == "" {
		v.BiddingURL = BiddingURL.String()
	}
	if v.APIURL == "" {
		v.APIURL = APIURL.String()
	}
	if v.DialTimeout == 0 {
		v.DialTimeout = 2 * time.Second
	}
	if v.ResponseHeaderTimeout == 0 {
		v.ResponseHeaderTimeout = 3 * time.Second
	}
	if v.HttpClientTimeout == 0 {
		v.HttpClientTimeout = 5 * time.Second
	}
	if v.MaxIdleConnsPerHost == 0 {
		v.MaxIdleConnsPerHost = 20
	}
	if v.MaxConnsPerHost == 0 {
		v.MaxConnsPerHost = 50
	}
	if v.RequestsPerSecond != 0 && v.RequestsBurst == 0 {
		v.RequestsBurst = 10
	}
}

// Check validates the options.
func (v *Options) Check() error {
	for _, s := range []string{v.BiddingURL, v.APIURL} {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("could not parse url %q: %w", s, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url %q must use http or https scheme", s)
		}
	}
	if v.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	return nil
}
