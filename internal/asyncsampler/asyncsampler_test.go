// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-stackprof.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package asyncsampler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-stackprof/pkg/host"
)

type fakeHost struct {
	mu     sync.Mutex
	frames map[int64]host.FrameChain
	names  map[int64]string
}

func (h *fakeHost) Active() map[int64]string { h.mu.Lock(); defer h.mu.Unlock(); return h.names }
func (h *fakeHost) CurrentFrames() map[int64]host.FrameChain {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

func TestTickFoldsMainAndWorkerFrames(t *testing.T) {
	h := &fakeHost{
		frames: map[int64]host.FrameChain{
			2: {{Filename: "w.go", Name: "worker.spin", FirstLine: 5, CurrentLine: 5}},
		},
		names: map[int64]string{2: "Worker"},
	}
	a := New(h, nil)
	a.running.Store(true)

	mainFrame := &host.Frame{Filename: "m.go", Name: "main.loop", FirstLine: 1, CurrentLine: 1}
	a.Tick(mainFrame)

	dump := a.Dumps()
	require.Contains(t, dump, "MainThread;m.go:main.loop:1")
	require.Contains(t, dump, "Worker;w.go:worker.spin:5")
}

func TestTickReentrancyGuardDropsOverlappingCalls(t *testing.T) {
	h := &fakeHost{frames: map[int64]host.FrameChain{}, names: map[int64]string{}}
	a := New(h, nil)
	a.running.Store(true)
	a.ticking.Store(true) // simulate an in-flight tick

	mainFrame := &host.Frame{Filename: "m.go", Name: "main.loop", FirstLine: 1, CurrentLine: 1}
	a.Tick(mainFrame)

	require.Equal(t, "", a.Dumps())
}

func TestTickNoopWhenNotRunning(t *testing.T) {
	h := &fakeHost{frames: map[int64]host.FrameChain{}, names: map[int64]string{}}
	a := New(h, nil)

	a.Tick(&host.Frame{Filename: "m.go", Name: "main.loop", FirstLine: 1, CurrentLine: 1})
	require.Equal(t, "", a.Dumps())
}

func TestStartStopDrivesTicksViaTicker(t *testing.T) {
	h := &fakeHost{
		frames: map[int64]host.FrameChain{},
		names:  map[int64]string{},
	}
	a := New(h, nil)

	called := 0
	a.Start(5*time.Millisecond, func() *host.Frame {
		called++
		return &host.Frame{Filename: "m.go", Name: "main.loop", FirstLine: 1, CurrentLine: 1}
	})

	time.Sleep(40 * time.Millisecond)
	a.Stop()

	require.Greater(t, called, 0)
	require.Contains(t, a.Dumps(), "MainThread;m.go:main.loop:1")
	require.False(t, a.StartTime().IsZero())
	require.False(t, a.EndTime().IsZero())
}

func TestSamplingTIDExcludesSelfFromActiveThreads(t *testing.T) {
	h := &fakeHost{
		frames: map[int64]host.FrameChain{
			7: {{Filename: "self.go", Name: "sampler.loop", FirstLine: 1, CurrentLine: 1}},
		},
		names: map[int64]string{7: "SamplerThread"},
	}
	a := New(h, nil)
	a.SetSamplingTID(7)
	a.running.Store(true)

	a.Tick(nil)
	require.Equal(t, "", a.Dumps())
}
