// Copyright (c) 2023 BVK Chaitanya

package subcmds

import (
	"context"
	"flag"
	"fmt"

	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/kucing007/lelang-cli/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

type SyncTime struct {
	cmdutil.APIFlags
}

func (c *SyncTime) Purpose() string {
	return "Measures the offset between local and server time"
}

func (c *SyncTime) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("sync-time", flag.ContinueOnError)
	c.APIFlags.SetFlags(fset)
	return "sync-time", fset, cli.CmdFunc(c.run)
}

func (c *SyncTime) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}
	clock, err := clocksync.New(c.ClockOptions())
	if err != nil {
		return err
	}
	if err := clock.Sync(ctx); err != nil {
		return err
	}
	offset, _ := clock.Offset()
	stdout := cli.Stdout(ctx)
	fmt.Fprintf(stdout, "Server time  %s\n", clock.Now().In(clocksync.WIB).Format("2006-01-02 15:04:05.000 MST"))
	fmt.Fprintf(stdout, "Offset       %s\n", offset)
	fmt.Fprintf(stdout, "Round trip   %s\n", clock.RoundTrip())
	fmt.Fprintf(stdout, "Source       %s\n", clock.Source())
	return nil
}
