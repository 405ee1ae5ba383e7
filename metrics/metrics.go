// Copyright (c) 2023 BVK Chaitanya

// Package metrics holds the prometheus collectors of the bidding session.
//
// Collectors are registered with the default registry and served by the
// status HTTP server at /metrics:
//
//	lelang_requests_total{kind}        requests issued (poll, submit, initial)
//	lelang_poll_results_total{result}  race outcomes (ok, empty, failed, unauthenticated)
//	lelang_poll_latency_seconds        latency of the winning race branch
//	lelang_bids_total{result}          bid submissions (ok, rejected, failed)
//	lelang_submit_latency_seconds      bid submission round trip
//	lelang_mode{mode}                  1 for the current engine mode
//	lelang_last_bid_amount             last observed ledger amount
//	lelang_own_bid_amount              own last bid amount
//	lelang_clock_offset_seconds        server minus local clock
//	lelang_token_refreshes_total{result}
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lelang_requests_total",
			Help: "Requests issued to the auction service",
		},
		[]string{"kind"},
	)

	PollResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lelang_poll_results_total",
			Help: "Racing poll outcomes",
		},
		[]string{"result"},
	)

	PollLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lelang_poll_latency_seconds",
			Help:    "Latency of the first usable ledger response",
			Buckets: []float64{.01, .025, .05, .1, .2, .35, .5, 1, 2, 5},
		},
	)

	Bids = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lelang_bids_total",
			Help: "Bid submissions by result",
		},
		[]string{"result"},
	)

	SubmitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lelang_submit_latency_seconds",
			Help:    "Round trip of bid submissions",
			Buckets: []float64{.025, .05, .1, .2, .35, .5, 1, 2, 5},
		},
	)

	// Mode flips labeled series between 0 and 1 so that dashboards only need
	// a single query.
	Mode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lelang_mode",
			Help: "Current bidding engine mode",
		},
		[]string{"mode"},
	)

	LastBidAmount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lelang_last_bid_amount",
			Help: "Last observed ledger amount",
		},
	)

	OwnBidAmount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lelang_own_bid_amount",
			Help: "Own last submitted or ledger confirmed bid",
		},
	)

	ClockOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lelang_clock_offset_seconds",
			Help: "Server clock minus local clock",
		},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lelang_token_refreshes_total",
			Help: "Bearer token refresh attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(Requests, PollResults, PollLatency)
	prometheus.MustRegister(Bids, SubmitLatency)
	prometheus.MustRegister(Mode, LastBidAmount, OwnBidAmount)
	prometheus.MustRegister(ClockOffset, TokenRefreshes)
}

// SetMode marks the named mode as current among all known modes.
func SetMode(current string, modes ...string) {
	for _, m := range modes {
		if m == current {
			Mode.WithLabelValues(m).Set(1)
		} else {
			Mode.WithLabelValues(m).Set(0)
		}
	}
}
