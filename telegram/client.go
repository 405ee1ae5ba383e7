// Copyright (c) 2023 BVK Chaitanya

// Package telegram implements a bot that delivers session notifications to
// the operator and answers operator commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bvkgo/kv"
	"github.com/kucing007/lelang-cli/ctxutil"
	"github.com/kucing007/lelang-cli/gobs"
	"github.com/kucing007/lelang-cli/kvutil"
	"github.com/kucing007/lelang-cli/syncmap"
	"github.com/visvasity/cli"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type CmdFunc = cli.CmdFunc

type Command struct {
	Purpose string
	Handler CmdFunc

	// OwnerOnly commands are refused for users other than the owner.
	OwnerOnly bool
}

type Client struct {
	cg ctxutil.CloseGroup

	db kv.Database

	// loc is the time zone for notification timestamps.
	loc *time.Location

	mu sync.Mutex

	bot *bot.Bot

	self *models.User

	secrets *Secrets

	state *gobs.TelegramState

	commandMap syncmap.Map[string, *Command]

	started time.Time
}

// New connects to the bot api and starts handling updates in the background.
// Timestamps in notifications are shown in the input location.
func New(ctx context.Context, db kv.Database, secrets *Secrets, loc *time.Location) (_ *Client, status error) {
	if err := secrets.Check(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	c := &Client{
		db:      db,
		loc:     loc,
		secrets: secrets.Clone(),
		started: time.Now(),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(c.handler),
	}
	b, err := bot.New(secrets.BotToken, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if status != nil {
			b.Close(ctx)
		}
	}()
	c.bot = b

	self, err := b.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	c.self = self

	state, err := kvutil.GetDB[gobs.TelegramState](ctx, db, c.stateKey())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		state = &gobs.TelegramState{
			UserChatIDMap: make(map[string]int64),
		}
	}
	c.state = state

	c.commandMap.Store("uptime", &Command{
		Purpose: "Prints the bot uptime",
		Handler: c.uptime,
	})
	c.commandMap.Store("version", &Command{
		Purpose: "Prints version information",
		Handler: c.version,
	})

	if ok, err := c.bot.SetMyCommands(ctx, c.commands()); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("could not set bot commands")
	}

	c.cg.Go(func(ctx context.Context) {
		c.bot.Start(ctx)
	})
	return c, nil
}

func (c *Client) Close() error {
	c.cg.Close()
	return nil
}

func (c *Client) BotUserName() string {
	return c.self.Username
}

func (c *Client) OwnerUserName() string {
	return c.secrets.OwnerID
}

func (c *Client) stateKey() string {
	return path.Join("/telegram", c.self.Username, "state")
}

// AddCommand registers a bot command that every authorized user may run.
// Replies are collected from the cli.Stdout writer of the handler context.
func (c *Client) AddCommand(ctx context.Context, name, purpose string, handler CmdFunc) error {
	return c.registerCommand(ctx, name, &Command{Purpose: purpose, Handler: handler})
}

// AddOwnerCommand registers a bot command that only the owner may run.
func (c *Client) AddOwnerCommand(ctx context.Context, name, purpose string, handler CmdFunc) error {
	return c.registerCommand(ctx, name, &Command{Purpose: purpose, Handler: handler, OwnerOnly: true})
}

func (c *Client) registerCommand(ctx context.Context, name string, cmd *Command) error {
	if err := c.addCommand(name, cmd); err != nil {
		return err
	}
	if ok, err := c.bot.SetMyCommands(ctx, c.commands()); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("could not set bot commands")
	}
	return nil
}

func (c *Client) addCommand(name string, cmd *Command) error {
	if len(name) == 0 || len(cmd.Purpose) == 0 || cmd.Handler == nil {
		return os.ErrInvalid
	}
	if _, loaded := c.commandMap.LoadOrStore(name, cmd); loaded {
		return os.ErrExist
	}
	return nil
}

func (c *Client) commands() *bot.SetMyCommandsParams {
	var cmds []models.BotCommand
	for _, name := range syncmap.SortedKeys(&c.commandMap) {
		cdata, _ := c.commandMap.Load(name)
		cmds = append(cmds, models.BotCommand{
			Command:     name,
			Description: cdata.Purpose,
		})
	}
	return &bot.SetMyCommandsParams{
		Commands: cmds,
	}
}

// parseCommand splits a bot command message into the command name and
// arguments. Commands addressed to a bot as in "/status@somebot" lose the
// suffix.
func parseCommand(msg *models.Message) (string, []string, error) {
	if msg == nil || len(msg.Entities) == 0 {
		return "", nil, os.ErrInvalid
	}
	entity := msg.Entities[0]
	if entity.Type != models.MessageEntityTypeBotCommand || entity.Offset != 0 {
		return "", nil, os.ErrInvalid
	}
	if entity.Length < 2 || entity.Length > len(msg.Text) || msg.Text[0] != '/' {
		return "", nil, os.ErrInvalid
	}
	cmd := msg.Text[1:entity.Length]
	if p := strings.IndexByte(cmd, '@'); p != -1 {
		cmd = cmd[:p]
	}
	args := strings.Fields(msg.Text[entity.Length:])
	return cmd, args, nil
}

func (c *Client) isValidUser(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.secrets.IsAllowed(user)
}

// SendMessage sends the message to the owner and other users with a known
// chat id. Delivery failures to individual users are logged and ignored.
func (c *Client) SendMessage(ctx context.Context, at time.Time, text string) error {
	msg := at.In(c.loc).Format("2006-01-02 15:04:05 MST") + " " + text

	c.mu.Lock()
	receivers := c.secrets.Receivers()
	chatIDs := make(map[string]int64)
	for _, receiver := range receivers {
		if cid, ok := c.state.UserChatIDMap[receiver]; ok {
			chatIDs[receiver] = cid
		}
	}
	c.mu.Unlock()

	for _, receiver := range receivers {
		cid, ok := chatIDs[receiver]
		if !ok {
			slog.Warn("could not notify receiver without chat id", "receiver", receiver)
			continue
		}
		m := &bot.SendMessageParams{
			ChatID: cid,
			Text:   msg,
		}
		if _, err := c.bot.SendMessage(ctx, m); err != nil {
			slog.Error("could not notify receiver (ignored)", "receiver", receiver, "err", err)
		}
	}
	return nil
}

func (c *Client) handler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if b != c.bot {
		slog.Error("handler invoked with invalid bot value", "want", c.bot, "got", b)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}

	sender := update.Message.From.Username
	if !c.isValidUser(sender) {
		slog.Warn("received message from unknown user (ignored)", "sender", sender, "message", update.Message.Text)
		return
	}

	if err := c.updateChatIDs(ctx, update); err != nil {
		slog.Warn("could not update chat id values (ignored)", "err", err)
	}

	if err := c.respond(ctx, update); err != nil {
		slog.Error("could not respond to user command (ignored)", "user", sender, "err", err)
	}
}

// run executes the command in the message and returns the reply text. Errors
// from the command are returned as the reply.
func (c *Client) run(ctx context.Context, msg *models.Message) string {
	cmd, args, err := parseCommand(msg)
	if err != nil {
		return "not a command; try /status"
	}
	cdata, ok := c.commandMap.Load(cmd)
	if !ok {
		return fmt.Sprintf("unknown command %q", cmd)
	}
	if cdata.OwnerOnly && !c.secrets.IsOwner(msg.From.Username) {
		return fmt.Sprintf("command %q is restricted to the bot owner", cmd)
	}

	var sb strings.Builder
	if err := cdata.Handler(cli.WithStdout(ctx, &sb), args); err != nil {
		slog.Error("could not handle user command (ignored)", "cmd", cmd, "user", msg.From.Username, "err", err)
		return err.Error()
	}
	return sb.String()
}

func (c *Client) respond(ctx context.Context, update *models.Update) error {
	reply := c.run(ctx, update.Message)
	if len(reply) == 0 {
		return nil
	}

	True := true
	p := &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   reply,
		ReplyParameters: &models.ReplyParameters{
			MessageID: update.Message.ID,
		},
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &True,
		},
	}
	_, err := c.bot.SendMessage(ctx, p)
	return err
}

func (c *Client) updateChatIDs(ctx context.Context, update *models.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sender := normalizeUser(update.Message.From.Username)
	if id, ok := c.state.UserChatIDMap[sender]; ok && id == update.Message.Chat.ID {
		return nil
	}
	c.state.UserChatIDMap[sender] = update.Message.Chat.ID
	slog.Info("updating chat id for authorized user", "user", sender, "chat-id", update.Message.Chat.ID)

	if err := kvutil.SetDB(ctx, c.db, c.stateKey(), c.state); err != nil {
		slog.Error("could not save telegram state to the db", "err", err)
		return err
	}
	return nil
}

func (c *Client) uptime(ctx context.Context, args []string) error {
	stdout := cli.Stdout(ctx)
	const day = 24 * time.Hour
	d := time.Since(c.started).Round(time.Second)
	if d < day {
		fmt.Fprintf(stdout, "%v", d)
		return nil
	}
	fmt.Fprintf(stdout, "%dd%v", d/day, d%day)
	return nil
}

func (c *Client) version(ctx context.Context, _ []string) error {
	stdout := cli.Stdout(ctx)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Errorf("could not read build information")
	}
	// Dependency versions can overflow the telegram message size limits.
	fmt.Fprintln(stdout, "Go: ", info.GoVersion)
	fmt.Fprintln(stdout, "Main Module Path: ", info.Main.Path)
	fmt.Fprintln(stdout, "Main Module Version: ", info.Main.Version)
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			fmt.Fprintln(stdout, s.Key, ": ", s.Value)
		}
	}
	return nil
}
