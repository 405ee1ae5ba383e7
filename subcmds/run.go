// Copyright (c) 2023 BVK Chaitanya

package subcmds

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bvkgo/kv"
	"github.com/kucing007/lelang-cli/auction"
	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/clocksync"
	"github.com/kucing007/lelang-cli/config"
	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/ctxutil"
	"github.com/kucing007/lelang-cli/daemonize"
	"github.com/kucing007/lelang-cli/httputil"
	"github.com/kucing007/lelang-cli/notify"
	"github.com/kucing007/lelang-cli/pushover"
	"github.com/kucing007/lelang-cli/session"
	"github.com/kucing007/lelang-cli/subcmds/cmdutil"
	"github.com/kucing007/lelang-cli/telegram"
	"github.com/nightlyone/lockfile"
	"github.com/visvasity/cli"
	"github.com/visvasity/sglog"
)

var errStoppedOverTelegram = errors.New("stopped over telegram")

type Run struct {
	cmdutil.DataFlags
	cmdutil.APIFlags
	cmdutil.EnvFlags

	fset *flag.FlagSet

	configPath string

	// Values for flags that override the configuration file and environment.
	lot          string
	maxBudget    int64
	increment    int64
	passkey      string
	endTime      string
	ownID        string
	pollInterval time.Duration
	sniper       time.Duration
	width        int
	startSession bool

	background bool
	noStatus   bool
	logStderr  bool

	httpAddr string

	syncTimeout time.Duration

	notifyInterval time.Duration
	notifyBurst    int
}

func (c *Run) Purpose() string {
	return "Runs an autobid session on a lot"
}

func (c *Run) Description() string {
	return `
Command "run" watches the bid ledger of a lot and submits a counter bid
whenever another participant outbids the operator, up to the maximum budget.

Session parameters are read from an optional YAML file (-config), then from
LELANG_* environment variables (also loaded from ~/.lelang.env) and finally
from the command-line flags. Missing passkey, participant id, increment and
end time are looked up from the lot status.

With a non-zero -sniper threshold the session stays in standby mode and polls
slowly until the remaining time drops to the threshold.

A bearer token must be stored with "lelang auth set-token" before running.
`
}

func (c *Run) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	c.DataFlags.SetFlags(fset)
	c.APIFlags.SetFlags(fset)
	c.EnvFlags.SetFlags(fset)
	fset.StringVar(&c.configPath, "config", "", "path to the session configuration file in YAML format")
	fset.StringVar(&c.lot, "lot", "", "lot id")
	fset.Int64Var(&c.maxBudget, "max-budget", 0, "maximum bid amount")
	fset.Int64Var(&c.increment, "increment", 0, "bid increment (default from the lot status)")
	fset.StringVar(&c.passkey, "passkey", "", "bidding passkey (default from the lot status)")
	fset.StringVar(&c.endTime, "end-time", "", "auction end time; timestamps without zone are in WIB (default from the lot status)")
	fset.StringVar(&c.ownID, "own-id", "", "own participant id on the ledger (default from the lot status)")
	fset.DurationVar(&c.pollInterval, "poll-interval", 20*time.Millisecond, "burst polling interval (10ms-500ms)")
	fset.DurationVar(&c.sniper, "sniper", 0, "when non-zero, bidding starts when remaining time drops to this value (0-300s)")
	fset.IntVar(&c.width, "width", 3, "number of parallel ledger requests per poll (1-10)")
	fset.BoolVar(&c.startSession, "start-session", false, "when true, joins the lot bidding session before starting")
	fset.BoolVar(&c.background, "background", false, "runs the session in background")
	fset.BoolVar(&c.noStatus, "no-status", false, "when true, live status view is not shown")
	fset.BoolVar(&c.logStderr, "log-stderr", false, "when true, logs are written to stderr instead of the log files")
	fset.StringVar(&c.httpAddr, "http-addr", "", "when non-empty, serves status, metrics and pprof handlers at this address")
	fset.DurationVar(&c.syncTimeout, "sync-timeout", 30*time.Second, "max time to retry the initial server time sync")
	fset.DurationVar(&c.notifyInterval, "notify-interval", 10*time.Second, "minimum interval between notifications after a burst")
	fset.IntVar(&c.notifyBurst, "notify-burst", 5, "max number of notifications sent at once")
	c.fset = fset
	return "run", fset, cli.CmdFunc(c.run)
}

// loadConfig merges the configuration file, environment and flags.
func (c *Run) loadConfig() (*config.Config, error) {
	if err := c.LoadEnv(); err != nil {
		return nil, fmt.Errorf("could not load env file: %w", err)
	}

	cfg := config.Default()
	if len(c.configPath) != 0 {
		v, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = v
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	c.fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lot":
			cfg.Lot = c.lot
		case "max-budget":
			cfg.MaxBudget = c.maxBudget
		case "increment":
			cfg.Increment = c.increment
		case "passkey":
			cfg.Passkey = c.passkey
		case "end-time":
			cfg.EndTime = c.endTime
		case "own-id":
			cfg.OwnID = c.ownID
		case "poll-interval":
			cfg.PollInterval = c.pollInterval
		case "sniper":
			cfg.Sniper = c.sniper
		case "width":
			cfg.Width = c.width
		case "start-session":
			cfg.StartSession = c.startSession
		}
	})
	cfg.Clamp()

	if len(cfg.Lot) == 0 {
		return nil, fmt.Errorf("lot id is required")
	}
	if cfg.MaxBudget <= 0 {
		return nil, fmt.Errorf("max budget is required")
	}
	return cfg, nil
}

// fillFromLot completes the configuration with the lot status values.
func fillFromLot(ctx context.Context, client *auction.Client, cfg *config.Config) error {
	if len(cfg.Passkey) != 0 && len(cfg.OwnID) != 0 && cfg.Increment > 0 && len(cfg.EndTime) != 0 {
		return nil
	}
	status, err := client.LotStatus(ctx, cfg.Lot)
	if err != nil {
		return fmt.Errorf("could not fetch lot status to fill missing session values: %w", err)
	}
	if len(cfg.Passkey) == 0 {
		cfg.Passkey = status.Passkey
	}
	if len(cfg.OwnID) == 0 {
		cfg.OwnID = status.ParticipantID
	}
	if cfg.Increment <= 0 {
		cfg.Increment = status.Increment
	}
	if len(cfg.EndTime) == 0 && !status.EndTime.IsZero() {
		cfg.EndTime = status.EndTime.Format(time.RFC3339)
	}
	slog.Info("using lot status values", "lot", cfg.Lot, "name", status.Name, "increment", cfg.Increment,
		"own-id", cfg.OwnID, "end-time", cfg.EndTime, "status", status.Status)
	return nil
}

func (c *Run) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	dataDir, err := c.DataDir()
	if err != nil {
		return err
	}
	lockPath := filepath.Join(dataDir, "lelang.lock")
	flock, err := lockfile.New(lockPath)
	if err != nil {
		return fmt.Errorf("could not create lock file %q: %w", lockPath, err)
	}

	if c.background {
		// Background process is initialized when it owns the lock file.
		check := func(context.Context) error {
			owner, err := flock.GetOwner()
			if err != nil {
				return err
			}
			if owner.Pid == os.Getpid() {
				return fmt.Errorf("lock file is owned by the parent process")
			}
			return nil
		}
		if err := daemonize.Daemonize(ctx, check); err != nil {
			return err
		}
	}
	showStatus := !c.background && !c.noStatus

	if !c.logStderr {
		backend := sglog.NewBackend(&sglog.Options{
			Name:           "lelang",
			LogDirs:        []string{filepath.Join(dataDir, "logs")},
			LogLinkDir:     dataDir,
			LogFileMaxSize: 64 * 1024 * 1024,
		})
		defer backend.Close()
		slog.SetDefault(slog.New(backend.Handler()))
	}
	log.SetFlags(log.Flags() | log.Lmicroseconds)

	if err := flock.TryLock(); err != nil {
		return fmt.Errorf("could not get lock on file %q (is another session running?): %w", lockPath, err)
	}
	defer flock.Unlock()

	db, closeDB, err := c.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := c.CredentialStore(ctx, db)
	if err != nil {
		return err
	}
	if _, err := store.Token(ctx); err != nil {
		return fmt.Errorf("no stored bearer token; use the auth set-token command first: %w", err)
	}

	refresher, err := credential.NewRefresher(store, c.RefresherOptions())
	if err != nil {
		return err
	}
	defer refresher.Close()

	if v := store.Get(); len(v.RefreshToken) != 0 {
		refresher.Start()
	} else {
		slog.Warn("no refresh token is stored; bearer token will not be refreshed automatically")
	}

	aopts := c.AuctionOptions()
	aopts.OnUnauthorized = refresher.Kick
	client, err := auction.New(store, aopts)
	if err != nil {
		return err
	}
	defer client.Close()

	clock, err := clocksync.New(c.ClockOptions())
	if err != nil {
		return err
	}
	if err := ctxutil.RetryTimeout(ctx, time.Second, c.syncTimeout, func() error { return clock.Sync(ctx) }); err != nil {
		return fmt.Errorf("could not synchronize with the server time: %w", err)
	}

	if err := fillFromLot(ctx, client, cfg); err != nil {
		return err
	}
	if cfg.StartSession {
		if err := client.StartSession(ctx, cfg.Lot); err != nil {
			return fmt.Errorf("could not start the lot bidding session: %w", err)
		}
	}

	s, err := cfg.Session()
	if err != nil {
		return err
	}

	poller := auction.NewRacingPoller(client, s.Lot, s.OwnID, cfg.Width)
	submitter := auction.NewBidSubmitter(client, s.Lot, s.Passkey, clock)
	engine, err := bidder.New(s, poller, submitter, clock)
	if err != nil {
		return err
	}

	obs, err := client.Observe(ctx, s.Lot, s.OwnID)
	if err != nil {
		slog.Warn("could not read the initial ledger (ignored)", "lot", s.Lot, "err", err)
	}
	engine.Seed(obs, err)

	sopts := &session.Options{
		Scheduler: session.SchedulerOptions{
			ActiveInterval: cfg.PollInterval,
		},
	}
	controller, err := session.New(engine, sopts)
	if err != nil {
		return err
	}
	defer controller.Close()

	messenger, closeMessenger, err := newMessenger(ctx, db, cfg)
	if err != nil {
		return err
	}
	defer closeMessenger()

	if tc, ok := messenger.telegram(); ok {
		addTelegramCommands(ctx, tc, controller)
	}

	if len(c.httpAddr) != 0 {
		addr, err := net.ResolveTCPAddr("tcp", c.httpAddr)
		if err != nil {
			return fmt.Errorf("could not resolve http address %q: %w", c.httpAddr, err)
		}
		hs, err := httputil.New(nil /* opts */)
		if err != nil {
			return err
		}
		defer hs.Close()

		hs.AddDebugHandlers()
		hs.AddHandler("/status", httputil.JSONHandler(controller.Snapshot))
		id, err := hs.StartTCP(ctx, addr)
		if err != nil {
			return fmt.Errorf("could not start http server on %s: %w", addr, err)
		}
		defer hs.Stop(id)
		slog.Info("started http server", "addr", addr)
	}

	var cg ctxutil.CloseGroup
	defer cg.Close()

	notifier := session.NewNotifier(messenger, c.notifyInterval, c.notifyBurst)
	nr, err := controller.Subscribe(0)
	if err != nil {
		return err
	}
	defer nr.Close()
	cg.GoErr("notifier", func(ctx context.Context) error {
		return notifier.Run(ctx, nr)
	})

	var display *session.Display
	if showStatus {
		display = session.NewDisplay(os.Stdout)
		dr, err := controller.Subscribe(1)
		if err != nil {
			return err
		}
		defer dr.Close()
		cg.GoErr("status-display", func(ctx context.Context) error {
			return display.Run(ctx, dr)
		})
	}

	if err := controller.Start(ctx); err != nil {
		return err
	}
	werr := controller.Wait(context.Background())
	cg.CloseCause(controller.Engine().Err())
	slog.Info("background tasks are stopped", "reason", cg.Cause())

	snapshot := controller.Snapshot()
	summary := session.NewSummary(controller.RunID(), &snapshot)
	if display != nil {
		display.Final(&snapshot)
	}
	if !c.background {
		fmt.Fprintln(cli.Stdout(ctx))
		summary.Write(cli.Stdout(ctx))
	}
	slog.Info("bidding session summary", "run-id", summary.RunID, "lot", summary.Lot, "duration", summary.Duration,
		"requests", summary.Requests, "bids", summary.Bids, "errors", summary.Errors, "reason", summary.StopReason)

	// Parent context may already be canceled by a signal.
	nctx, ncancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ncancel()
	notifier.Send(nctx, clock.Now(), fmt.Sprintf("Bidding stopped on lot %s: %s", s.Lot, summary.StopReason))

	if werr != nil && !errors.Is(werr, bidder.ErrCanceled) {
		return werr
	}
	return nil
}

type messengers struct {
	notify.Multi

	tc *telegram.Client
}

func (m *messengers) telegram() (*telegram.Client, bool) {
	return m.tc, m.tc != nil
}

func newMessenger(ctx context.Context, db kv.Database, cfg *config.Config) (_ *messengers, _ func(), status error) {
	m := &messengers{Multi: notify.Multi{notify.Log{}}}
	closer := func() {
		if m.tc != nil {
			m.tc.Close()
		}
	}
	defer func() {
		if status != nil {
			closer()
		}
	}()

	if cfg.Telegram != nil {
		secrets := &telegram.Secrets{
			BotToken: cfg.Telegram.BotToken,
			OwnerID:  cfg.Telegram.OwnerID,
			OtherIDs: cfg.Telegram.OtherIDs,
		}
		tc, err := telegram.New(ctx, db, secrets, clocksync.WIB)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create telegram client: %w", err)
		}
		m.tc = tc
		m.Multi = append(m.Multi, tc)
	}
	if cfg.Pushover != nil {
		pc, err := pushover.New(&pushover.Keys{
			ApplicationKey: cfg.Pushover.ApplicationKey,
			UserKey:        cfg.Pushover.UserKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create pushover client: %w", err)
		}
		m.Multi = append(m.Multi, pc)
	}
	return m, closer, nil
}

func addTelegramCommands(ctx context.Context, tc *telegram.Client, controller *session.Controller) {
	status := func(ctx context.Context, _ []string) error {
		s := controller.Snapshot()
		session.Render(cli.Stdout(ctx), &s)
		fmt.Fprintf(cli.Stdout(ctx), "Session uptime %s\n", controller.Uptime().Round(time.Second))
		return nil
	}
	stop := func(ctx context.Context, _ []string) error {
		controller.Stop(errStoppedOverTelegram)
		fmt.Fprintf(cli.Stdout(ctx), "Stopping the bidding session")
		return nil
	}
	if err := tc.AddCommand(ctx, "status", "Prints the bidding session status", status); err != nil {
		slog.Error("could not add telegram command (ignored)", "command", "status", "err", err)
	}
	if err := tc.AddOwnerCommand(ctx, "stop", "Stops the bidding session", stop); err != nil {
		slog.Error("could not add telegram command (ignored)", "command", "stop", "err", err)
	}
}
