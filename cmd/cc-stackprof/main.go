// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command cc-stackprof is a thin reference harness: it wires the
// synchronous sampler against pkg/goruntimehost, optionally starts the
// debug HTTP surface and a checkpoint scheduler, and exits cleanly on
// SIGINT/SIGTERM. It is not part of the profiler's core surface - a real
// embedding links internal/sampler directly - but gives this repository
// something runnable to demonstrate the pieces wired together.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/ClusterCockpit/cc-stackprof/internal/checkpoint"
	"github.com/ClusterCockpit/cc-stackprof/internal/config"
	"github.com/ClusterCockpit/cc-stackprof/internal/debugserver"
	"github.com/ClusterCockpit/cc-stackprof/internal/sampler"
	"github.com/ClusterCockpit/cc-stackprof/pkg/goruntimehost"
)

func main() {
	var flagGops bool
	var flagConfigFile, flagOutFile, flagDebugAddr string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "", "Path to a JSON config file (see internal/config.Document)")
	flag.StringVar(&flagOutFile, "out", "", "Write the folded-stack dump here on shutdown")
	flag.StringVar(&flagDebugAddr, "debug-addr", "", "If set, serve /healthz, /debug/dump, /debug/stats on this address")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	var raw json.RawMessage
	if flagConfigFile != "" {
		data, err := os.ReadFile(flagConfigFile)
		if err != nil {
			cclog.Fatalf("reading config file: %s", err.Error())
		}
		raw = data
	}
	if err := config.Load(raw); err != nil {
		cclog.Fatalf("loading config: %s", err.Error())
	}

	cfg := sampler.NewConfig()
	if err := cfg.SetSamplingIntervalUs(config.Keys.SamplingIntervalUs); err != nil {
		cclog.Fatalf("invalid sampling-interval-us: %s", err.Error())
	}
	cfg.SetDebug(config.Keys.Debug)
	cfg.SetIgnoreFrozen(config.Keys.IgnoreFrozen)
	cfg.SetIgnoreSelf(config.Keys.IgnoreSelf)
	cfg.SetTreeMode(config.Keys.TreeMode)
	cfg.SetFocusMode(config.Keys.FocusMode)
	if config.Keys.TimeMode == "cpu" {
		cfg.SetTimeMode(sampler.TimeModeCPU)
	}
	if err := cfg.SetNativeDiscount(config.Keys.NativeDiscount); err != nil {
		cclog.Fatalf("invalid native-discount: %s", err.Error())
	}
	patterns, err := config.CompilePatterns(config.Keys.RegexPatterns)
	if err != nil {
		cclog.Fatalf("compiling regex-patterns: %s", err.Error())
	}
	cfg.SetRegexPatterns(patterns)

	host := goruntimehost.New(16)
	s := sampler.New(host, cfg)

	if err := s.Start(); err != nil {
		cclog.Fatalf("starting sampler: %s", err.Error())
	}
	cclog.Infof("cc-stackprof: sampler started, interval=%dus", cfg.SamplingIntervalUs())

	var wg sync.WaitGroup

	var debugSrv *debugserver.Server
	if flagDebugAddr != "" {
		debugSrv = debugserver.New(flagDebugAddr, s)
		if err := debugSrv.Start(); err != nil {
			cclog.Fatalf("starting debug server: %s", err.Error())
		}
		cclog.Infof("cc-stackprof: debug server listening at %s", flagDebugAddr)
	}

	var checkpointSched *checkpoint.Scheduler
	if config.Keys.Checkpoint.Directory != "" && config.Keys.Checkpoint.Interval != "" {
		interval, err := time.ParseDuration(config.Keys.Checkpoint.Interval)
		if err != nil {
			cclog.Fatalf("invalid checkpoint.interval: %s", err.Error())
		}
		format := checkpoint.FormatText
		if config.Keys.Checkpoint.Format == "avro" {
			format = checkpoint.FormatAvro
		}
		checkpointSched, err = checkpoint.New(s, config.Keys.Checkpoint.Directory, format)
		if err != nil {
			cclog.Fatalf("creating checkpoint scheduler: %s", err.Error())
		}
		if err := checkpointSched.Start(interval); err != nil {
			cclog.Fatalf("starting checkpoint scheduler: %s", err.Error())
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		cclog.Info("cc-stackprof: shutting down")

		if checkpointSched != nil {
			checkpointSched.Shutdown()
		}
		if debugSrv != nil {
			debugSrv.Shutdown()
		}
		if err := s.Stop(); err != nil {
			cclog.Warnf("stopping sampler: %s", err.Error())
		}
		if flagOutFile != "" {
			if err := s.Save(flagOutFile); err != nil {
				cclog.Errorf("saving folded-stack dump: %s", err.Error())
			}
		}
	}()

	wg.Wait()
}
