// Copyright (c) 2023 BVK Chaitanya

package cmdutil

import (
	"flag"
	"time"

	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/kucing007/lelang-cli/credential"
)

// APIFlags select the auction service endpoints.
type APIFlags struct {
	biddingURL string
	apiURL     string
	timeURL    string
	refreshURL string

	requestsPerSecond float64

	httpTimeout time.Duration
}

func (f *APIFlags) SetFlags(fset *flag.FlagSet) {
	fset.StringVar(&f.biddingURL, "bidding-url", auction.BiddingURL.String(), "base url of the bidding api")
	fset.StringVar(&f.apiURL, "api-url", auction.APIURL.String(), "base url of the lot api")
	fset.StringVar(&f.timeURL, "time-url", clocksync.TimeURL.String(), "url of the server time endpoint")
	fset.StringVar(&f.refreshURL, "refresh-url", credential.RefreshURL.String(), "url of the token refresh endpoint")
	fset.Float64Var(&f.requestsPerSecond, "max-rps", 0, "when non-zero, limits requests per second to the auction service")
	fset.DurationVar(&f.httpTimeout, "http-timeout", 5*time.Second, "timeout for auction service requests")
}

func (f *APIFlags) AuctionOptions() *auction.Options {
	return &auction.Options{
		BiddingURL:        f.biddingURL,
		APIURL:            f.apiURL,
		HttpClientTimeout: f.httpTimeout,
		RequestsPerSecond: f.requestsPerSecond,
	}
}

func (f *APIFlags) ClockOptions() *clocksync.Options {
	return &clocksync.Options{
		TimeURL:  f.timeURL,
		Location: clocksync.WIB,
	}
}

func (f *APIFlags) RefresherOptions() *credential.RefresherOptions {
	return &credential.RefresherOptions{
		RefreshURL: f.refreshURL,
	}
}
