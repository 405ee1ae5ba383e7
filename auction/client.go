// Copyright (c) 2023 BVK Chaitanya

// Package auction implements a client for the auction bidding service.
//
// Besides the plain request wrappers, the package provides the two latency
// sensitive parts of the bidding loop: RacingPoller, which races parallel
// ledger reads, and BidSubmitter, which posts bids stamped with the server
// clock.
package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/kucing007/lelang-cli/credential"
	"github.com/kucing007/lelang-cli/ctxutil"
	"golang.org/x/time/rate"
)

var (
	// ErrUnauthorized is returned when the service rejects the bearer
	// credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyLedger is returned when a ledger read succeeds but has no bids.
	ErrEmptyLedger = errors.New("empty ledger")

	// ErrNoObservation is returned when every branch of a poll race fails.
	ErrNoObservation = errors.New("no observation")
)

// RejectedError is a business rejection reported by the service inside a
// successful http response.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("failed with code=%d message=%s", e.Code, e.Message)
}

type Client struct {
	opts Options

	biddingURL url.URL
	apiURL     url.URL

	client http.Client

	limiter *rate.Limiter

	creds credential.Provider
}

// New returns a new client instance. Credential provider is consulted for
// every authenticated request.
func New(creds credential.Provider, opts *Options) (*Client, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}

	biddingURL, _ := url.Parse(opts.BiddingURL)
	apiURL, _ := url.Parse(opts.APIURL)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsBurst)
	}

	c := &Client{
		opts:       *opts,
		biddingURL: *biddingURL,
		apiURL:     *apiURL,
		client: http.Client{
			Timeout:   opts.HttpClientTimeout,
			Transport: transport,
		},
		limiter: limiter,
		creds:   creds,
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func endpoint(base *url.URL, elems ...string) *url.URL {
	return &url.URL{
		Scheme: base.Scheme,
		Host:   base.Host,
		Path:   path.Join(append([]string{base.Path}, elems...)...),
	}
}

// History returns the bid ledger of a lot, most recent first.
func (c *Client) History(ctx context.Context, lot string) ([]*BidRecord, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	addrURL := endpoint(&c.biddingURL, "/bidding", lot, "/history")
	resp := new(HistoryResponse)
	if err := httpGetJSON(ctx, c, addrURL, token, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not get bid history", "lot", lot, "url", addrURL, "err", err)
		}
		return nil, err
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return nil, &RejectedError{Code: resp.Code, Message: resp.Message}
	}
	return resp.Data, nil
}

// readHistory performs a single ledger read without retries. It is used by
// the poll race where a slow retry is worse than a lost branch.
func (c *Client) readHistory(ctx context.Context, lot, token string) ([]*BidRecord, error) {
	addrURL := endpoint(&c.biddingURL, "/bidding", lot, "/history")
	resp, err := c.do(ctx, http.MethodGet, addrURL, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("http GET returned %d", resp.StatusCode)
	}
	v := new(HistoryResponse)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return nil, fmt.Errorf("could not decode ledger: %w", err)
	}
	if v.Code != 0 && v.Code != http.StatusOK {
		return nil, &RejectedError{Code: v.Code, Message: v.Message}
	}
	if len(v.Data) == 0 {
		return nil, ErrEmptyLedger
	}
	return v.Data, nil
}

func (c *Client) do(ctx context.Context, method string, addrURL *url.URL, token string, request any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if request != nil {
		data, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, addrURL.String(), body)
	if err != nil {
		slog.Error("could not create http request object with context", "method", method, "url", addrURL, "err", err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(token) != 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if c.opts.OnUnauthorized != nil {
			c.opts.OnUnauthorized()
		}
		return nil, fmt.Errorf("http %s returned %d: %w", method, resp.StatusCode, ErrUnauthorized)
	}
	return resp, nil
}

func retryAfter(resp *http.Response) time.Duration {
	timeout := time.Second
	if x := resp.Header.Get("Retry-After"); len(x) != 0 {
		if v, err := strconv.Atoi(x); err == nil {
			timeout = time.Duration(v) * time.Second
		}
	}
	return timeout
}

func httpGetJSON[PT *T, T any](ctx context.Context, c *Client, addrURL *url.URL, token string, responsePtr PT) error {
	s := time.Now()
	resp, err := c.do(ctx, http.MethodGet, addrURL, token, nil)
	if d := time.Since(s); d > c.opts.HttpClientTimeout {
		slog.Warn(fmt.Sprintf("get request took %s which is more than the http client timeout %s", d, c.opts.HttpClientTimeout))
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not perform http get request", "url", addrURL, "err", err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("http get returned unsuccessful status code", "status-code", resp.StatusCode)
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
			log.Printf("server response was %s", body)
		}

		if resp.StatusCode == http.StatusBadGateway {
			ctxutil.Sleep(ctx, time.Second)
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return httpGetJSON(ctx, c, addrURL, token, responsePtr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			ctxutil.Sleep(ctx, retryAfter(resp))
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return httpGetJSON(ctx, c, addrURL, token, responsePtr)
		}

		slog.Error("http GET is unsuccessful", "status", resp.StatusCode)
		return fmt.Errorf("http GET returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(responsePtr); err != nil {
		slog.Error("could not decode response to json", "err", err)
		return err
	}
	return nil
}

// httpPostJSON posts the request once. Posts are never retried because bids
// and session starts are not idempotent.
func httpPostJSON[PT *T, T any](ctx context.Context, c *Client, addrURL *url.URL, token string, request any, response PT) error {
	resp, err := c.do(ctx, http.MethodPost, addrURL, token, request)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not perform http post request", "url", addrURL, "err", err)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("http post returned unsuccessful status code", "status-code", resp.StatusCode, "response", string(data))
		var genericResp GenericResponse
		if err := json.Unmarshal(data, &genericResp); err == nil && len(genericResp.Message) != 0 {
			return fmt.Errorf("http POST returned %d: %s", resp.StatusCode, genericResp.Message)
		}
		return fmt.Errorf("http POST returned %d", resp.StatusCode)
	}

	// Parse into a generic response.
	var genericResp GenericResponse
	if err := json.Unmarshal(data, &genericResp); err != nil {
		slog.Error("could not unmarshal into generic response", "response", string(data), "err", err)
		return err
	}
	if genericResp.Code != http.StatusOK {
		slog.Error("POST request failed", "url", addrURL, "response", string(data))
		return &RejectedError{Code: genericResp.Code, Message: genericResp.Message}
	}

	if err := json.Unmarshal(data, response); err != nil {
		slog.Error("could not decode response to json", "err", err)
		return err
	}
	return nil
}
