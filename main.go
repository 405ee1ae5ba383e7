// Copyright (c) 2023 BVK Chaitanya

package main

import (
	"context"
	"log"
	"os"

	"github.com/kucing007/lelang-cli/subcmds"
	"github.com/kucing007/lelang-cli/subcmds/auth"
	"github.com/kucing007/lelang-cli/subcmds/lot"
	"github.com/visvasity/cli"
)

func main() {
	authCmds := []cli.Command{
		new(auth.SetToken),
		new(auth.Show),
		new(auth.Refresh),
		new(auth.Clear),
	}

	lotCmds := []cli.Command{
		new(lot.Status),
		new(lot.History),
		new(lot.StartSession),
		new(lot.Bid),
	}

	cmds := []cli.Command{
		new(subcmds.Run),
		new(subcmds.SyncTime),
		cli.NewGroup("auth", "Manage the stored bearer credential", authCmds...),
		cli.NewGroup("lot", "Inspect and act on a single lot", lotCmds...),
	}
	if err := cli.Run(context.Background(), cmds, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
