/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package sysfs

import (
	"fmt"
	"io"
	"sync"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
)

// Fake is an in-memory Sysfs implementation for unit testing components
// that depend on the control surface without touching the real tracing
// pseudo-filesystem.
type Fake struct {
	mu         sync.Mutex
	nodes      map[string]string
	properties map[string]string
	cpuCount   int
	clock      string
	clocks     []string
	rawSources map[string]io.Reader
	formats    []string
	hm         bool
}

// NewFake returns a Fake with cpuCount per-CPU pipe nodes and the given
// clock set; the first entry in clocks is the initially-selected clock.
func NewFake(cpuCount int, clocks ...string) *Fake {
	if len(clocks) == 0 {
		clocks = []string{"local", "global", "boot", "mono"}
	}
	return &Fake{
		nodes:      make(map[string]string),
		properties: make(map[string]string),
		cpuCount:   cpuCount,
		clock:      clocks[0],
		clocks:     clocks,
		rawSources: make(map[string]io.Reader),
	}
}

// SetRawSource seeds the reader OpenRaw(name) will return, for tests
// driving the writer and drain engines against the fake.
func (f *Fake) SetRawSource(name string, r io.Reader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawSources[name] = r
}

// SetEventFormat registers an event format descriptor node, returned by
// ListEventFormatNodes and readable through ReadNode.
func (f *Fake) SetEventFormat(node, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node] = content
	f.formats = append(f.formats, node)
}

// SetHM flips the fake into the aggregated-pipe kernel variant.
func (f *Fake) SetHM(hm bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hm = hm
}

func (f *Fake) IsHM() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hm
}

func (f *Fake) ListEventFormatNodes() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.formats...), nil
}

type nopCloserReader struct{ io.Reader }

func (nopCloserReader) Close() error { return nil }

func (f *Fake) OpenRaw(name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rawSources[name]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return nopCloserReader{r}, nil
}

func (f *Fake) Root() string            { return "fake://tracing" }
func (f *Fake) TraceMarkerPath() string { return "fake://tracing/trace_marker" }

func (f *Fake) ReadNode(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.nodes[name]
	if !ok {
		return "", errdefs.ErrNotFound
	}
	return v, nil
}

func (f *Fake) WriteNode(name string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[name] = value
	if name == traceClockNode {
		f.clock = value
	}
	return nil
}

func (f *Fake) Truncate(name string) error {
	return f.WriteNode(name, "")
}

func (f *Fake) AvailableClocks() (string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock, append([]string(nil), f.clocks...), nil
}

func (f *Fake) ReadProperty(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.properties[key]
	if !ok {
		return "0", nil
	}
	return v, nil
}

func (f *Fake) WriteProperty(key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.properties[key] = value
	return nil
}

func (f *Fake) CPUNodes() ([]string, error) {
	if f.IsHM() {
		return []string{aggregatedRawNode}, nil
	}
	nodes := make([]string, f.cpuCount)
	for i := 0; i < f.cpuCount; i++ {
		nodes[i] = fmt.Sprintf("per_cpu/cpu%d/trace_pipe_raw", i)
	}
	return nodes, nil
}

// Node exposes a written node's raw value directly, for test assertions.
func (f *Fake) Node(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[name]
}

// SetClock forces the fake's currently-selected clock, bypassing WriteNode,
// to seed a test's starting state.
func (f *Fake) SetClock(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = name
}
