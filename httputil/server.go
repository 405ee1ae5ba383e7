// Copyright (c) 2023 BVK Chaitanya

// Package httputil implements the local http server for the status, metrics
// and profiling endpoints.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kucing007/lelang-cli/syncmap"
)

type Server struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	opts Options

	nextServerID atomic.Int64
	serverMap    syncmap.Map[int64, *http.Server]

	mux atomic.Pointer[http.ServeMux]

	mutex      sync.Mutex
	handlerMap map[string]http.Handler
}

// New creates a http server.
func New(opts *Options) (*Server, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Server{
		ctx:        ctx,
		cancel:     cancel,
		opts:       *opts,
		handlerMap: make(map[string]http.Handler),
	}
	s.mux.Store(http.NewServeMux())
	return s, nil
}

func (s *Server) Close() error {
	s.cancel(os.ErrClosed)
	for _, svr := range s.serverMap.Range {
		svr.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) sleep(d time.Duration) error {
	select {
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	case <-time.After(d):
		return nil
	}
}

// StartTCP starts serving on the input address and waits till the server
// responds to a probe request. Zero port is replaced with the chosen port.
func (s *Server) StartTCP(ctx context.Context, addr *net.TCPAddr) (id int64, status error) {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return -1, err
	}
	defer func() {
		if status != nil {
			l.Close()
		}
	}()

	if addr.Port == 0 {
		laddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			return -1, fmt.Errorf("created listener addr is not *net.TCPAddr type")
		}
		addr.Port = laddr.Port
	}

	probePath := "/" + uuid.New().String()
	probeHandler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		slog.Debug("received http server probe request", "addr", addr, "remote", r.RemoteAddr)
	})
	s.AddHandler(probePath, probeHandler)
	defer s.RemoveHandler(probePath)

	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	defer func() {
		if status != nil {
			server.Close()
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server failed", "addr", addr, "err", err)
		}
	}()

	u := url.URL{
		Scheme: "http",
		Host:   l.Addr().String(),
		Path:   probePath,
	}
	if err := s.probe(ctx, &u); err != nil {
		return -1, fmt.Errorf("could not invoke probe handler: %w", err)
	}

	id = s.nextServerID.Add(1) - 1
	s.serverMap.Store(id, server)
	return id, nil
}

func (s *Server) probe(ctx context.Context, u *url.URL) error {
	c := http.Client{
		Timeout: s.opts.ServerCheckTimeout,
	}

	tctx, tcancel := context.WithTimeout(ctx, s.opts.ServerCheckTimeout)
	defer tcancel()

	for tctx.Err() == nil {
		r, err := http.NewRequestWithContext(tctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := c.Do(r)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if err := s.sleep(s.opts.ServerCheckRetryInterval); err != nil {
			return err
		}
	}
	return context.Cause(tctx)
}

func (s *Server) Stop(id int64) error {
	svr, ok := s.serverMap.Load(id)
	if !ok {
		return fmt.Errorf("http server %d not found: %w", id, os.ErrNotExist)
	}
	s.serverMap.Delete(id)
	_ = svr.Close()
	return nil
}

func (s *Server) AddHandler(pattern string, handler http.Handler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.handlerMap[pattern] = handler
	s.updateHandlerMux()
}

func (s *Server) RemoveHandler(pattern string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.handlerMap[pattern]; !ok {
		return false
	}
	delete(s.handlerMap, pattern)
	s.updateHandlerMux()
	return true
}

func (s *Server) updateHandlerMux() {
	m := http.NewServeMux()
	for k, v := range s.handlerMap {
		m.Handle(k, v)
	}
	s.mux.Store(m)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.Load().ServeHTTP(w, r)
}
