// Copyright (c) 2023 BVK Chaitanya

package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/visvasity/topic"
	"golang.org/x/term"
)

// ErrorWidth is the number of characters of the last error shown in the
// status view.
const ErrorWidth = 30

// FormatRupiah formats an amount with dot thousand separators, eg, "Rp
// 1.050.000".
func FormatRupiah(v int64) string {
	s := strconv.FormatInt(v, 10)
	sign := ""
	if v < 0 {
		sign, s = "-", s[1:]
	}
	var sb strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(c)
	}
	return "Rp " + sign + sb.String()
}

// FormatCountdown formats a duration as HH:MM:SS, with a day prefix when
// needed.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h, m, s := d/time.Hour, (d%time.Hour)/time.Minute, (d%time.Minute)/time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Truncate shortens s to at most n characters, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// Render writes the status view of a snapshot.
func Render(w io.Writer, s *bidder.Snapshot) {
	remaining := "unbounded"
	if s.HasEnd {
		remaining = FormatCountdown(s.Remaining)
	}
	fmt.Fprintf(w, "Lot %s | %s | %s WIB | remaining %s\n", s.Lot, strings.ToUpper(s.Mode.String()),
		s.ServerTime.In(clocksync.WIB).Format("15:04:05"), remaining)
	fmt.Fprintf(w, "Budget %s | Increment %s\n", FormatRupiah(s.MaxBudget), FormatRupiah(s.Increment))

	switch {
	case s.LastAmount == 0:
		fmt.Fprintf(w, "Last bid  -\n")
	case s.LastIsSelf:
		fmt.Fprintf(w, "Last bid  %s (SELF)\n", FormatRupiah(s.LastAmount))
	default:
		fmt.Fprintf(w, "Last bid  %s (OPPONENT %s)\n", FormatRupiah(s.LastAmount), s.LastBidder)
	}
	if s.OwnLast == 0 {
		fmt.Fprintf(w, "Own bid   -\n")
	} else {
		fmt.Fprintf(w, "Own bid   %s\n", FormatRupiah(s.OwnLast))
	}

	fmt.Fprintf(w, "Bids %d | Requests %d | Last %s | Avg %s\n", s.Bids, s.Requests,
		s.LastLatency.Round(time.Millisecond), s.AvgLatency().Round(time.Millisecond))
	if len(s.LastError) != 0 {
		fmt.Fprintf(w, "Error: %s\n", Truncate(s.LastError, ErrorWidth))
	}
	if s.Mode == bidder.Stopped {
		fmt.Fprintf(w, "Stopped: %s\n", s.StopReason)
	}
}

// Display redraws the status view on a terminal.
type Display struct {
	out *os.File

	tty bool

	interval time.Duration
}

// NewDisplay returns a display for the output file. Terminals are redrawn in
// place ten times a second; other outputs get a fresh block every five
// seconds.
func NewDisplay(out *os.File) *Display {
	d := &Display{
		out:      out,
		tty:      term.IsTerminal(int(out.Fd())),
		interval: 5 * time.Second,
	}
	if d.tty {
		d.interval = 100 * time.Millisecond
	}
	return d
}

func (d *Display) draw(s *bidder.Snapshot) {
	var sb strings.Builder
	Render(&sb, s)
	if !d.tty {
		io.WriteString(d.out, sb.String()+"\n")
		return
	}

	width := 0
	if w, _, err := term.GetSize(int(d.out.Fd())); err == nil {
		width = w
	}
	var buf strings.Builder
	buf.WriteString("\033[H\033[2J")
	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
		if width > 0 {
			line = Truncate(line, width)
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	io.WriteString(d.out, buf.String())
}

// Run draws the latest snapshot from the receiver till the context is canceled
// or the receiver is closed.
func (d *Display) Run(ctx context.Context, r *topic.Receiver[bidder.Snapshot]) error {
	ch, err := topic.ReceiveCh(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var latest bidder.Snapshot
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			latest, dirty = s, true
		case <-ticker.C:
			if dirty {
				d.draw(&latest)
				dirty = false
			}
		}
	}
}

// Final draws the last snapshot unconditionally.
func (d *Display) Final(s *bidder.Snapshot) {
	d.draw(s)
}
