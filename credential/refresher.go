// Copyright (c) 2023 BVK Chaitanya

package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kucing007/lelang-cli/ctxutil"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a refresh is attempted without a stored
// refresh token.
var ErrNoRefreshToken = errors.New("no refresh token")

var RefreshURL = url.URL{
	Scheme: "https",
	Host:   "api-auth.lelang.go.id",
	Path:   "/api/token/refresh",
}

type RefresherOptions struct {
	// RefreshURL overrides the token refresh endpoint.
	RefreshURL string

	// Random refresh interval bounds.
	MinInterval time.Duration
	MaxInterval time.Duration

	// ExpiryMargin is how long before the token expiry a refresh is forced.
	ExpiryMargin time.Duration

	HttpClientTimeout time.Duration

	Clock clockwork.Clock
}

func (v *RefresherOptions) setDefaults() {
	if v.RefreshURL == "" {
		v.RefreshURL = RefreshURL.String()
	}
	if v.MinInterval == 0 {
		v.MinInterval = 30 * time.Second
	}
	if v.MaxInterval == 0 {
		v.MaxInterval = 240 * time.Second
	}
	if v.ExpiryMargin == 0 {
		v.ExpiryMargin = time.Minute
	}
	if v.HttpClientTimeout == 0 {
		v.HttpClientTimeout = 30 * time.Second
	}
	if v.Clock == nil {
		v.Clock = clockwork.NewRealClock()
	}
}

func (v *RefresherOptions) Check() error {
	if v.MinInterval <= 0 || v.MaxInterval < v.MinInterval {
		return fmt.Errorf("invalid refresh interval range [%s, %s]", v.MinInterval, v.MaxInterval)
	}
	if _, err := url.Parse(v.RefreshURL); err != nil {
		return fmt.Errorf("could not parse refresh url: %w", err)
	}
	return nil
}

// Refresher exchanges the stored refresh token for a new token pair at random
// intervals, before the access token expires, and whenever Kick is called.
type Refresher struct {
	cg ctxutil.CloseGroup

	opts RefresherOptions

	store *Store

	client http.Client

	group singleflight.Group

	kickCh chan struct{}
}

func NewRefresher(store *Store, opts *RefresherOptions) (*Refresher, error) {
	if opts == nil {
		opts = new(RefresherOptions)
	}
	opts.setDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}
	r := &Refresher{
		opts:  *opts,
		store: store,
		client: http.Client{
			Timeout: opts.HttpClientTimeout,
		},
		kickCh: make(chan struct{}, 1),
	}
	return r, nil
}

// Start launches the background refresh loop.
func (r *Refresher) Start() {
	r.cg.Go(r.goRefresh)
}

func (r *Refresher) Close() error {
	r.cg.Close()
	return nil
}

// Kick asks the background loop to refresh as soon as possible. It never
// blocks.
func (r *Refresher) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

func (r *Refresher) goRefresh(ctx context.Context) {
	for ctx.Err() == nil {
		d := r.nextInterval()
		timer := r.opts.Clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.kickCh:
			timer.Stop()
			slog.Info("refreshing credential on demand")
		case <-timer.Chan():
		}

		if err := r.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Error("could not refresh credential (will retry)", "err", err)
			}
			continue
		}
		slog.Info("credential is refreshed", "refreshes", r.store.Get().Refreshes)
	}
}

func (r *Refresher) nextInterval() time.Duration {
	span := r.opts.MaxInterval - r.opts.MinInterval
	d := r.opts.MinInterval
	if span > 0 {
		d += rand.N(span + 1)
	}
	cur := r.store.Get()
	if exp, ok := Expiry(cur.AccessToken); ok {
		until := exp.Add(-r.opts.ExpiryMargin).Sub(r.opts.Clock.Now())
		if until < d {
			d = max(until, time.Second)
		}
	}
	return d
}

// Refresh performs one refresh-token exchange. Concurrent callers share a
// single request.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		return nil, r.refresh(ctx)
	})
	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	cur := r.store.Get()
	if len(cur.RefreshToken) == 0 {
		return ErrNoRefreshToken
	}

	type Request struct {
		RefreshToken string `json:"refresh_token"`
	}
	data, err := json.Marshal(&Request{RefreshToken: cur.RefreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.RefreshURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if len(cur.AccessToken) != 0 {
		req.Header.Set("Authorization", "Bearer "+cur.AccessToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not perform refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("could not read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("refresh request returned unsuccessful status code", "status-code", resp.StatusCode, "response", string(body))
		return fmt.Errorf("refresh returned http status %d", resp.StatusCode)
	}

	type Tokens struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	type Response struct {
		Token        string  `json:"token"`
		RefreshToken string  `json:"refresh_token"`
		Data         *Tokens `json:"data"`
	}
	var v Response
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("could not unmarshal refresh response: %w", err)
	}
	access, refresh := v.Token, v.RefreshToken
	if len(access) == 0 && v.Data != nil {
		access, refresh = v.Data.Token, v.Data.RefreshToken
	}
	if len(access) == 0 {
		return fmt.Errorf("refresh response has no token")
	}
	return r.store.update(ctx, access, refresh)
}
