// Copyright (c) 2023 BVK Chaitanya

// Package lot implements the commands that inspect and act on a single lot
// outside of a bidding session.
package lot

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/kucing007/lelang-cli/session"
	"github.com/kucing007/lelang-cli/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

func lotArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("needs one lot id argument")
	}
	return args[0], nil
}

type Status struct {
	cmdutil.ClientFlags
}

func (c *Status) Purpose() string {
	return "Prints the lot schedule and participant details"
}

func (c *Status) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("status", flag.ContinueOnError)
	c.ClientFlags.DataFlags.SetFlags(fset)
	c.ClientFlags.APIFlags.SetFlags(fset)
	return "status", fset, cli.CmdFunc(c.run)
}

func (c *Status) run(ctx context.Context, args []string) error {
	lot, err := lotArg(args)
	if err != nil {
		return err
	}
	client, _, closer, err := c.NewClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	s, err := client.LotStatus(ctx, lot)
	if err != nil {
		return err
	}
	layout := time.DateTime + " MST"
	stdout := cli.Stdout(ctx)
	fmt.Fprintf(stdout, "Lot            %s\n", lot)
	fmt.Fprintf(stdout, "Name           %s\n", s.Name)
	fmt.Fprintf(stdout, "Status         %s\n", s.Status)
	fmt.Fprintf(stdout, "Participant    %s\n", s.ParticipantID)
	fmt.Fprintf(stdout, "Passkey        %s\n", s.Passkey)
	fmt.Fprintf(stdout, "Increment      %s\n", session.FormatRupiah(s.Increment))
	fmt.Fprintf(stdout, "Reserve value  %s\n", session.FormatRupiah(s.ReserveValue))
	if !s.StartTime.IsZero() {
		fmt.Fprintf(stdout, "Starts at      %s\n", s.StartTime.In(clocksync.WIB).Format(layout))
	}
	if !s.EndTime.IsZero() {
		fmt.Fprintf(stdout, "Ends at        %s\n", s.EndTime.In(clocksync.WIB).Format(layout))
	}
	return nil
}

type History struct {
	cmdutil.ClientFlags

	ownID string
	limit int
}

func (c *History) Purpose() string {
	return "Prints the bid ledger of a lot, most recent first"
}

func (c *History) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("history", flag.ContinueOnError)
	c.ClientFlags.DataFlags.SetFlags(fset)
	c.ClientFlags.APIFlags.SetFlags(fset)
	fset.StringVar(&c.ownID, "own-id", "", "own participant id to mark in the ledger")
	fset.IntVar(&c.limit, "limit", 20, "max number of records to print; zero prints all")
	return "history", fset, cli.CmdFunc(c.run)
}

func (c *History) run(ctx context.Context, args []string) error {
	lot, err := lotArg(args)
	if err != nil {
		return err
	}
	client, _, closer, err := c.NewClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	records, err := client.History(ctx, lot)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cli.Stdout(ctx), "No bids yet")
		return nil
	}
	if c.limit > 0 && len(records) > c.limit {
		records = records[:c.limit]
	}

	tw := tabwriter.NewWriter(cli.Stdout(ctx), 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "Time\tBidder\tAmount\t\n")
	for _, r := range records {
		bidder := string(r.UserAuctionID)
		if len(c.ownID) != 0 && bidder == c.ownID {
			bidder += " (SELF)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", r.Time, bidder, session.FormatRupiah(r.BidAmount.IntPart()))
	}
	return tw.Flush()
}

type StartSession struct {
	cmdutil.ClientFlags
}

func (c *StartSession) Purpose() string {
	return "Joins the live bidding session of a lot"
}

func (c *StartSession) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("start-session", flag.ContinueOnError)
	c.ClientFlags.DataFlags.SetFlags(fset)
	c.ClientFlags.APIFlags.SetFlags(fset)
	return "start-session", fset, cli.CmdFunc(c.run)
}

func (c *StartSession) run(ctx context.Context, args []string) error {
	lot, err := lotArg(args)
	if err != nil {
		return err
	}
	client, _, closer, err := c.NewClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if err := client.StartSession(ctx, lot); err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "Joined the bidding session of lot %s\n", lot)
	return nil
}

type Bid struct {
	cmdutil.ClientFlags

	multiplier int64
	increment  int64
	passkey    string
	dryRun     bool
}

func (c *Bid) Purpose() string {
	return "Submits one bid above the latest ledger amount"
}

func (c *Bid) Description() string {
	return `
Command "bid" reads the latest ledger amount of a lot and submits one bid of
latest + increment * multiplier. Increment and passkey default to the lot
status values. The bid is stamped with the synchronized server time.

This command is not limited by any budget.
`
}

func (c *Bid) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("bid", flag.ContinueOnError)
	c.ClientFlags.DataFlags.SetFlags(fset)
	c.ClientFlags.APIFlags.SetFlags(fset)
	fset.Int64Var(&c.multiplier, "multiplier", 1, "number of increments above the latest bid")
	fset.Int64Var(&c.increment, "increment", 0, "bid increment (default from the lot status)")
	fset.StringVar(&c.passkey, "passkey", "", "bidding passkey (default from the lot status)")
	fset.BoolVar(&c.dryRun, "dry-run", false, "when true, prints the bid without submitting")
	return "bid", fset, cli.CmdFunc(c.run)
}

func (c *Bid) run(ctx context.Context, args []string) error {
	lot, err := lotArg(args)
	if err != nil {
		return err
	}
	if c.multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive")
	}
	client, _, closer, err := c.NewClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	increment, passkey := c.increment, c.passkey
	if increment <= 0 || len(passkey) == 0 {
		s, err := client.LotStatus(ctx, lot)
		if err != nil {
			return err
		}
		if increment <= 0 {
			increment = s.Increment
		}
		if len(passkey) == 0 {
			passkey = s.Passkey
		}
	}
	if increment <= 0 {
		return fmt.Errorf("could not determine the bid increment")
	}

	var latest int64
	obs, err := client.Observe(ctx, lot, "")
	if err != nil {
		if !errors.Is(err, auction.ErrEmptyLedger) {
			return err
		}
		status, err := client.LotStatus(ctx, lot)
		if err != nil {
			return err
		}
		latest = status.ReserveValue
	} else {
		latest = obs.Amount
	}
	amount := latest + increment*c.multiplier

	stdout := cli.Stdout(ctx)
	fmt.Fprintf(stdout, "Latest %s, bidding %s\n", session.FormatRupiah(latest), session.FormatRupiah(amount))
	if c.dryRun {
		return nil
	}

	clock, err := clocksync.New(c.ClockOptions())
	if err != nil {
		return err
	}
	if err := clock.Sync(ctx); err != nil {
		return err
	}
	submitter := auction.NewBidSubmitter(client, lot, passkey, clock)
	if err := submitter.Submit(ctx, amount); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Bid %s is submitted\n", session.FormatRupiah(amount))
	return nil
}
