// Copyright (c) 2023 BVK Chaitanya

package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bvkgo/kv/kvmemdb"
	"github.com/go-telegram/bot/models"
	"github.com/kucing007/lelang-cli/gobs"
	"github.com/kucing007/lelang-cli/kvutil"
	"github.com/visvasity/cli"
)

var testingSecrets *Secrets

func checkSecrets() bool {
	if testingSecrets != nil {
		return true
	}
	data, err := os.ReadFile("telegram-creds.json")
	if err != nil {
		return false
	}
	s := new(Secrets)
	if err := json.Unmarshal(data, s); err != nil {
		return false
	}
	if err := s.Check(); err != nil {
		return false
	}
	testingSecrets = s
	return true
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	if !checkSecrets() {
		t.Skip("no credentials")
		return
	}

	db := kvmemdb.New()
	c, err := New(ctx, db, testingSecrets, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	t.Logf("Authorized on account %s with owner %s", c.BotUserName(), c.OwnerUserName())

	c.SendMessage(ctx, time.Now(), "hello")
}

func commandMessage(text string, length int) *models.Message {
	return &models.Message{
		ID:   1,
		Text: text,
		From: &models.User{Username: "operator"},
		Chat: models.Chat{ID: 42},
		Entities: []models.MessageEntity{
			{Type: models.MessageEntityTypeBotCommand, Offset: 0, Length: length},
		},
	}
}

func TestParseCommand(t *testing.T) {
	cmd, args, err := parseCommand(commandMessage("/stop@lelangbot now please", 15))
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "stop" || len(args) != 2 || args[0] != "now" {
		t.Fatalf("want stop with two args, got %q %q", cmd, args)
	}

	if _, _, err := parseCommand(&models.Message{Text: "hello"}); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("want ErrInvalid for plain text, got %v", err)
	}
	if _, _, err := parseCommand(commandMessage("/x", 10)); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("want ErrInvalid for a bad entity length, got %v", err)
	}
}

func newTestClient(t *testing.T) *Client {
	c := &Client{
		db:      kvmemdb.New(),
		loc:     time.UTC,
		self:    &models.User{Username: "lelangbot"},
		secrets: &Secrets{BotToken: "token", OwnerID: "operator", OtherIDs: []string{"partner"}},
		state:   &gobs.TelegramState{UserChatIDMap: make(map[string]int64)},
		started: time.Now(),
	}
	return c
}

func TestRunCommand(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	stopped := false
	stop := &Command{
		Purpose: "Stops the bidding session",
		Handler: func(ctx context.Context, args []string) error {
			stopped = true
			fmt.Fprint(cli.Stdout(ctx), "stopping")
			return nil
		},
		OwnerOnly: true,
	}
	if err := c.addCommand("stop", stop); err != nil {
		t.Fatal(err)
	}
	again := &Command{Purpose: "again", Handler: func(context.Context, []string) error { return nil }}
	if err := c.addCommand("stop", again); !errors.Is(err, os.ErrExist) {
		t.Fatalf("want ErrExist for a duplicate command, got %v", err)
	}
	if err := c.addCommand("bad", &Command{Purpose: "no handler"}); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("want ErrInvalid for a command without handler, got %v", err)
	}
	c.addCommand("fail", &Command{Purpose: "Always fails", Handler: func(context.Context, []string) error { return errors.New("boom") }})

	partner := commandMessage("/stop", 5)
	partner.From = &models.User{Username: "Partner"}
	if reply := c.run(ctx, partner); reply != `command "stop" is restricted to the bot owner` || stopped {
		t.Fatalf("want owner-only refusal, got %q", reply)
	}

	if reply := c.run(ctx, commandMessage("/stop", 5)); reply != "stopping" || !stopped {
		t.Fatalf("want stop command to run, got %q", reply)
	}
	if reply := c.run(ctx, commandMessage("/fail", 5)); reply != "boom" {
		t.Fatalf("want error as reply, got %q", reply)
	}
	if reply := c.run(ctx, commandMessage("/nope", 5)); reply != `unknown command "nope"` {
		t.Fatalf("want unknown command reply, got %q", reply)
	}

	cmds := c.commands().Commands
	if len(cmds) != 2 || cmds[0].Command != "fail" || cmds[1].Command != "stop" {
		t.Fatalf("want sorted commands, got %v", cmds)
	}
}

func TestUpdateChatIDs(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if !c.isValidUser("operator") || !c.isValidUser("@Partner") || c.isValidUser("stranger") || c.isValidUser("") {
		t.Fatalf("unexpected user validation")
	}

	msg := commandMessage("/status", 7)
	msg.From = &models.User{Username: "Operator"}
	update := &models.Update{Message: msg}
	if err := c.updateChatIDs(ctx, update); err != nil {
		t.Fatal(err)
	}

	state, err := kvutil.GetDB[gobs.TelegramState](ctx, c.db, "/telegram/lelangbot/state")
	if err != nil {
		t.Fatal(err)
	}
	if id := state.UserChatIDMap["operator"]; id != 42 {
		t.Fatalf("want persisted chat id 42, got %d", id)
	}
}

func TestSecrets(t *testing.T) {
	good := &Secrets{BotToken: "token", OwnerID: "@Operator", OtherIDs: []string{"partner", "@Helper"}}
	if err := good.Check(); err != nil {
		t.Fatal(err)
	}

	bad := []*Secrets{
		{OwnerID: "operator"},
		{BotToken: "token", OwnerID: "@"},
		{BotToken: "token", OwnerID: "operator", OtherIDs: []string{""}},
		{BotToken: "token", OwnerID: "operator", OtherIDs: []string{"@OPERATOR"}},
		{BotToken: "token", OwnerID: "operator", OtherIDs: []string{"partner", "Partner"}},
	}
	for i, s := range bad {
		if err := s.Check(); err == nil {
			t.Fatalf("%d: want an error for %+v", i, s)
		}
	}

	c := good.Clone()
	if c.OwnerID != "operator" || len(c.OtherIDs) != 2 || c.OtherIDs[1] != "helper" {
		t.Fatalf("want normalized clone, got %+v", c)
	}
	good.OtherIDs[0] = "changed"
	if c.OtherIDs[0] != "partner" {
		t.Fatalf("want clone to be independent, got %+v", c)
	}

	if !c.IsOwner("OPERATOR") || c.IsOwner("partner") || c.IsOwner("") {
		t.Fatalf("unexpected owner check")
	}
	if !c.IsAllowed("@helper") || c.IsAllowed("stranger") {
		t.Fatalf("unexpected allowed check")
	}
	if r := c.Receivers(); len(r) != 3 || r[0] != "operator" {
		t.Fatalf("want owner first in receivers, got %v", r)
	}
}
