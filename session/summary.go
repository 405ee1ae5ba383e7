// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kucing007/lelang-cli/bidder"
)

// Summary is the end of session report.
type Summary struct {
	RunID string
	Lot   string

	Duration time.Duration

	Requests int64
	Bids     int64
	Errors   int64

	AvgLatency time.Duration

	LastAmount int64
	LastIsSelf bool
	OwnLast    int64

	StopReason string
}

func NewSummary(runID string, s *bidder.Snapshot) *Summary {
	end := s.StoppedAt
	if end.IsZero() {
		end = s.ServerTime
	}
	return &Summary{
		RunID:      runID,
		Lot:        s.Lot,
		Duration:   end.Sub(s.StartedAt),
		Requests:   s.Requests,
		Bids:       s.Bids,
		Errors:     s.Errors,
		AvgLatency: s.AvgLatency(),
		LastAmount: s.LastAmount,
		LastIsSelf: s.LastIsSelf,
		OwnLast:    s.OwnLast,
		StopReason: s.StopReason,
	}
}

func (v *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "Session %s on lot %s\n", v.RunID, v.Lot)
	fmt.Fprintf(w, "Duration       %s\n", v.Duration.Round(time.Second))
	fmt.Fprintf(w, "Requests       %d\n", v.Requests)
	fmt.Fprintf(w, "Bids           %d\n", v.Bids)
	fmt.Fprintf(w, "Errors         %d\n", v.Errors)
	fmt.Fprintf(w, "Avg response   %s\n", v.AvgLatency.Round(time.Millisecond))
	if v.OwnLast > 0 {
		fmt.Fprintf(w, "Own last bid   %s\n", FormatRupiah(v.OwnLast))
	}
	if v.LastAmount > 0 {
		who := "opponent"
		if v.LastIsSelf {
			who = "self"
		}
		fmt.Fprintf(w, "Final bid      %s (%s)\n", FormatRupiah(v.LastAmount), who)
	}
	if len(v.StopReason) != 0 {
		fmt.Fprintf(w, "Stop reason    %s\n", v.StopReason)
	}
}

func (v *Summary) String() string {
	var sb strings.Builder
	v.Write(&sb)
	return sb.String()
}
