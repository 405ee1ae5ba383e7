// Copyright (c) 2023 BVK Chaitanya

// Package config loads the bidding session configuration from a YAML file and
// LELANG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kucing007/lelang-cli/bidder"
	"github.com/kucing007/lelang-cli/clocksync"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by this package.
const EnvPrefix = "LELANG_"

const (
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = 500 * time.Millisecond

	MaxSniper = 300 * time.Second

	MinWidth = 1
	MaxWidth = 10
)

type Config struct {
	Lot string `yaml:"lot"`

	MaxBudget int64 `yaml:"max-budget"`
	Increment int64 `yaml:"increment"`

	Passkey string `yaml:"passkey"`

	// EndTime is the scheduled auction end. Timestamps without a zone are
	// in WIB.
	EndTime string `yaml:"end-time"`

	OwnID string `yaml:"own-id"`

	PollInterval time.Duration `yaml:"poll-interval"`

	Sniper time.Duration `yaml:"sniper"`

	Width int `yaml:"width"`

	StartSession bool `yaml:"start-session"`

	Telegram *Telegram `yaml:"telegram"`

	Pushover *Pushover `yaml:"pushover"`
}

type Telegram struct {
	BotToken string   `yaml:"token"`
	OwnerID  string   `yaml:"owner"`
	OtherIDs []string `yaml:"others"`
}

type Pushover struct {
	ApplicationKey string `yaml:"application-key"`
	UserKey        string `yaml:"user-key"`
}

// Default returns the configuration with defaults for the optional fields.
func Default() *Config {
	return &Config{
		PollInterval: 20 * time.Millisecond,
		Width:        3,
	}
}

// Load reads the YAML configuration file over the defaults. Unknown fields are
// rejected.
func Load(fpath string) (*Config, error) {
	fp, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	c, err := Decode(fp)
	if err != nil {
		return nil, fmt.Errorf("could not load config file %q: %w", fpath, err)
	}
	return c, nil
}

func Decode(r io.Reader) (*Config, error) {
	c := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides the configuration with non-empty LELANG_* environment
// variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"LOT":      &c.Lot,
		"PASSKEY":  &c.Passkey,
		"END_TIME": &c.EndTime,
		"OWN_ID":   &c.OwnID,
	}
	for name, p := range strs {
		if v := os.Getenv(EnvPrefix + name); len(v) != 0 {
			*p = v
		}
	}

	ints := map[string]*int64{
		"MAX_BUDGET": &c.MaxBudget,
		"INCREMENT":  &c.Increment,
	}
	for name, p := range ints {
		if v := os.Getenv(EnvPrefix + name); len(v) != 0 {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("could not parse %s%s value %q: %w", EnvPrefix, name, v, err)
			}
			*p = n
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL": &c.PollInterval,
		"SNIPER":        &c.Sniper,
	}
	for name, p := range durations {
		if v := os.Getenv(EnvPrefix + name); len(v) != 0 {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("could not parse %s%s value %q: %w", EnvPrefix, name, v, err)
			}
			*p = d
		}
	}

	if v := os.Getenv(EnvPrefix + "WIDTH"); len(v) != 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("could not parse %sWIDTH value %q: %w", EnvPrefix, v, err)
		}
		c.Width = n
	}
	if v := os.Getenv(EnvPrefix + "START_SESSION"); len(v) != 0 {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("could not parse %sSTART_SESSION value %q: %w", EnvPrefix, v, err)
		}
		c.StartSession = b
	}

	if v := os.Getenv(EnvPrefix + "TELEGRAM_TOKEN"); len(v) != 0 {
		if c.Telegram == nil {
			c.Telegram = new(Telegram)
		}
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvPrefix + "TELEGRAM_OWNER"); len(v) != 0 {
		if c.Telegram == nil {
			c.Telegram = new(Telegram)
		}
		c.Telegram.OwnerID = v
	}
	if v := os.Getenv(EnvPrefix + "PUSHOVER_APP_KEY"); len(v) != 0 {
		if c.Pushover == nil {
			c.Pushover = new(Pushover)
		}
		c.Pushover.ApplicationKey = v
	}
	if v := os.Getenv(EnvPrefix + "PUSHOVER_USER_KEY"); len(v) != 0 {
		if c.Pushover == nil {
			c.Pushover = new(Pushover)
		}
		c.Pushover.UserKey = v
	}
	return nil
}

// parseDuration accepts Go durations and plain integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Clamp limits the poll interval, sniper threshold and race width to their
// supported ranges. A warning is logged for every adjusted value.
func (c *Config) Clamp() {
	if v := min(max(c.PollInterval, MinPollInterval), MaxPollInterval); v != c.PollInterval {
		slog.Warn("poll interval is adjusted to the supported range", "from", c.PollInterval, "to", v)
		c.PollInterval = v
	}
	if v := min(max(c.Sniper, 0), MaxSniper); v != c.Sniper {
		slog.Warn("sniper threshold is adjusted to the supported range", "from", c.Sniper, "to", v)
		c.Sniper = v
	}
	if v := min(max(c.Width, MinWidth), MaxWidth); v != c.Width {
		slog.Warn("race width is adjusted to the supported range", "from", c.Width, "to", v)
		c.Width = v
	}
}

// ParseEndTime returns the auction end time, or the zero time if the end time
// is not configured.
func (c *Config) ParseEndTime() (time.Time, error) {
	if len(c.EndTime) == 0 {
		return time.Time{}, nil
	}
	return clocksync.ParseTime(c.EndTime, clocksync.WIB)
}

func (c *Config) Check() error {
	if len(c.Lot) == 0 {
		return fmt.Errorf("lot id is required")
	}
	if c.MaxBudget <= 0 {
		return fmt.Errorf("max budget must be positive")
	}
	if c.Increment <= 0 {
		return fmt.Errorf("increment must be positive")
	}
	if c.Increment > c.MaxBudget {
		return fmt.Errorf("increment %d is larger than the max budget %d", c.Increment, c.MaxBudget)
	}
	if len(c.Passkey) == 0 {
		return fmt.Errorf("passkey is required")
	}
	if _, err := c.ParseEndTime(); err != nil {
		return err
	}
	if c.Sniper > 0 && len(c.EndTime) == 0 {
		return fmt.Errorf("sniper mode needs the auction end time")
	}
	if c.Telegram != nil && (len(c.Telegram.BotToken) == 0 || len(c.Telegram.OwnerID) == 0) {
		return fmt.Errorf("telegram needs both bot token and owner id")
	}
	if c.Pushover != nil && (len(c.Pushover.ApplicationKey) == 0 || len(c.Pushover.UserKey) == 0) {
		return fmt.Errorf("pushover needs both application and user keys")
	}
	return nil
}

// Session returns the bidding session described by the configuration.
func (c *Config) Session() (*bidder.Session, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}
	end, err := c.ParseEndTime()
	if err != nil {
		return nil, err
	}
	s := &bidder.Session{
		Lot:             c.Lot,
		MaxBudget:       c.MaxBudget,
		Increment:       c.Increment,
		Passkey:         c.Passkey,
		EndTime:         end,
		OwnID:           c.OwnID,
		SniperThreshold: c.Sniper,
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}
