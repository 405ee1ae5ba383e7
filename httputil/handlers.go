// Copyright (c) 2023 BVK Chaitanya

package httputil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JSONHandler serves the value returned by f as json.
func JSONHandler[T any](f func() T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := json.MarshalIndent(f(), "", "  ")
		if err != nil {
			slog.Error("could not json-encode http response", "path", r.URL.Path, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}

// AddDebugHandlers registers the process id, prometheus metrics and pprof
// handlers.
func (s *Server) AddDebugHandlers() {
	s.AddHandler("/pid", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d\n", os.Getpid())
	}))
	s.AddHandler("/metrics", promhttp.Handler())

	s.AddHandler("/debug/pprof/", http.HandlerFunc(pprof.Index))
	s.AddHandler("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	s.AddHandler("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	s.AddHandler("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	s.AddHandler("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
}
