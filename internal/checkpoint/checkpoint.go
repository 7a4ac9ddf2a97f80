// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint periodically persists a sampler's StackTree to disk,
// either as folded-stack text or as an Avro container file, on a
// gocron-scheduled interval - the same scheduling library cc-backend's
// internal/taskManager uses for its own periodic workers.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-stackprof/pkg/stacktree"
)

// Format selects the on-disk checkpoint encoding.
type Format int

const (
	FormatText Format = iota
	FormatAvro
)

// Source is the subset of internal/sampler.Sampler (or
// internal/asyncsampler.AsyncSampler) checkpoint needs: a way to reach the
// live tree without taking ownership of it.
type Source interface {
	Tree() *stacktree.StackTree
}

// Scheduler periodically writes a Source's tree to directory, named by
// timestamp, using gocron for interval scheduling.
type Scheduler struct {
	scheduler gocron.Scheduler
	source    Source
	directory string
	format    Format
}

// New builds a Scheduler. Call Start to begin the periodic job.
func New(source Source, directory string, format Format) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: creating scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, source: source, directory: directory, format: format}, nil
}

// Start registers the checkpoint job at the given interval and starts the
// scheduler.
func (s *Scheduler) Start(interval time.Duration) error {
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating directory: %w", err)
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.writeOnce),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: registering job: %w", err)
	}

	s.scheduler.Start()
	return nil
}

// Shutdown stops the scheduler, waiting for any in-flight job.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) writeOnce() {
	name := fmt.Sprintf("stackprof-%d", time.Now().Unix())
	switch s.format {
	case FormatAvro:
		name += ".avro"
	default:
		name += ".folded"
	}
	path := filepath.Join(s.directory, name)

	f, err := os.Create(path)
	if err != nil {
		cclog.Errorf("checkpoint: creating %s: %v", path, err)
		return
	}
	defer f.Close()

	tree := s.source.Tree()
	if s.format == FormatAvro {
		err = tree.EncodeAvro(f)
	} else {
		err = tree.Dump(f)
	}
	if err != nil {
		cclog.Errorf("checkpoint: writing %s: %v", path, err)
		return
	}
	cclog.Infof("checkpoint: wrote %s", path)
}
