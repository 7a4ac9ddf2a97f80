// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package debugserver exposes a small, purely observational HTTP surface
// over a running sampler: a health check, the current folded-stack dump,
// and a JSON counters endpoint. Routing and middleware follow the
// gorilla/mux + gorilla/handlers wiring cmd/cc-backend/server.go uses for
// its own router.
package debugserver

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Sampler is the subset of internal/sampler.Sampler's surface the debug
// server needs; declared here so this package does not import
// internal/sampler and create a dependency cycle with callers that wire
// both together.
type Sampler interface {
	Enabled() bool
	Dumps() string
	SamplingTimes() uint64
	AccSamplingTime() time.Duration
	SamplerLifeTime() time.Duration
}

// Stats is the JSON body served at /debug/stats.
type Stats struct {
	Enabled       bool   `json:"enabled"`
	SamplingTimes uint64 `json:"sampling_times"`
	AccSamplingUs int64  `json:"acc_sampling_us"`
	SamplerLifeUs int64  `json:"sampler_life_us"`
}

// Server wraps an *http.Server pre-wired with the three debug routes.
type Server struct {
	httpServer *http.Server
	addr       string
}

// New builds a Server bound to addr, reading state from s. It does not
// start listening until Start is called.
func New(addr string, s Sampler) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if s.Enabled() {
			rw.WriteHeader(http.StatusOK)
			io.WriteString(rw, "ENABLED\n")
			return
		}
		rw.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(rw, "DISABLED\n")
	})

	router.HandleFunc("/debug/dump", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(rw, s.Dumps())
	})

	router.HandleFunc("/debug/stats", func(rw http.ResponseWriter, r *http.Request) {
		stats := Stats{
			Enabled:       s.Enabled(),
			SamplingTimes: s.SamplingTimes(),
			AccSamplingUs: s.AccSamplingTime().Microseconds(),
			SamplerLifeUs: s.SamplerLifeTime().Microseconds(),
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(stats)
	})

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	logged := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		cclog.Debugf("%s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      logged,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving in the background. It returns once the listener is
// bound, surfacing any bind error synchronously.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("debugserver: serve failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server at once, closing the listener and every open
// connection; it does not wait for in-flight requests.
func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}
