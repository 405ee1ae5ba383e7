// Copyright (c) 2023 BVK Chaitanya

// Package auth implements the commands that manage the stored bearer
// credential.
package auth

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/subcmds/cmdutil"
	"github.com/visvasity/cli"
	"golang.org/x/term"
)

// readSecret reads one line from the input. Terminal input is not echoed.
func readSecret(ctx context.Context, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cli.Stdout(ctx), prompt)
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(cli.Stdout(ctx))
		if err != nil {
			return "", fmt.Errorf("could not read from terminal: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// mask hides all but the last few characters of a token.
func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-6:]
}

type SetToken struct {
	cmdutil.DataFlags

	withRefresh bool
}

func (c *SetToken) Purpose() string {
	return "Stores the bearer token copied from a logged in browser session"
}

func (c *SetToken) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("set-token", flag.ContinueOnError)
	c.DataFlags.SetFlags(fset)
	fset.BoolVar(&c.withRefresh, "with-refresh", true, "when true, also reads the refresh token")
	return "set-token", fset, cli.CmdFunc(c.run)
}

func (c *SetToken) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}
	access, err := readSecret(ctx, "Bearer token: ")
	if err != nil {
		return err
	}
	var refresh string
	if c.withRefresh {
		if refresh, err = readSecret(ctx, "Refresh token (empty to skip): "); err != nil {
			return err
		}
	}

	db, closeDB, err := c.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := c.CredentialStore(ctx, db)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, access, refresh); err != nil {
		return err
	}
	if exp, ok := credential.Expiry(access); ok {
		fmt.Fprintf(cli.Stdout(ctx), "Token is stored; it expires at %s\n", exp.In(clocksync.WIB).Format(time.DateTime+" MST"))
		return nil
	}
	fmt.Fprintln(cli.Stdout(ctx), "Token is stored")
	return nil
}

type Show struct {
	cmdutil.DataFlags
}

func (c *Show) Purpose() string {
	return "Prints the stored credential details"
}

func (c *Show) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("show", flag.ContinueOnError)
	c.DataFlags.SetFlags(fset)
	return "show", fset, cli.CmdFunc(c.run)
}

func (c *Show) run(ctx context.Context, args []string) error {
	db, closeDB, err := c.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := c.CredentialStore(ctx, db)
	if err != nil {
		return err
	}
	v := store.Get()
	if len(v.AccessToken) == 0 {
		return credential.ErrNotAuthenticated
	}

	stdout := cli.Stdout(ctx)
	fmt.Fprintf(stdout, "Access token   %s\n", mask(v.AccessToken))
	if exp, ok := credential.Expiry(v.AccessToken); ok {
		state := "valid"
		if time.Now().After(exp) {
			state = "expired"
		}
		fmt.Fprintf(stdout, "Expires at     %s (%s)\n", exp.In(clocksync.WIB).Format(time.DateTime+" MST"), state)
	}
	if len(v.RefreshToken) != 0 {
		fmt.Fprintf(stdout, "Refresh token  %s\n", mask(v.RefreshToken))
	} else {
		fmt.Fprintf(stdout, "Refresh token  -\n")
	}
	fmt.Fprintf(stdout, "Updated at     %s\n", v.UpdatedAt.In(clocksync.WIB).Format(time.DateTime+" MST"))
	fmt.Fprintf(stdout, "Refreshes      %d\n", v.Refreshes)
	return nil
}

type Refresh struct {
	cmdutil.DataFlags
	cmdutil.APIFlags
}

func (c *Refresh) Purpose() string {
	return "Exchanges the stored refresh token for a new bearer token"
}

func (c *Refresh) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("refresh", flag.ContinueOnError)
	c.DataFlags.SetFlags(fset)
	c.APIFlags.SetFlags(fset)
	return "refresh", fset, cli.CmdFunc(c.run)
}

func (c *Refresh) run(ctx context.Context, args []string) error {
	db, closeDB, err := c.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := c.CredentialStore(ctx, db)
	if err != nil {
		return err
	}
	r, err := credential.NewRefresher(store, c.RefresherOptions())
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.Stdout(ctx), "Token is refreshed")
	return nil
}

type Clear struct {
	cmdutil.DataFlags
}

func (c *Clear) Purpose() string {
	return "Removes the stored credential"
}

func (c *Clear) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("clear", flag.ContinueOnError)
	c.DataFlags.SetFlags(fset)
	return "clear", fset, cli.CmdFunc(c.run)
}

func (c *Clear) run(ctx context.Context, args []string) error {
	db, closeDB, err := c.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := c.CredentialStore(ctx, db)
	if err != nil {
		return err
	}
	return store.Clear(ctx)
}
