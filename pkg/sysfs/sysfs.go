/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package sysfs implements the tracing control surface: reading and
// writing the tracing pseudo-filesystem's control knobs with access
// checks and atomic truncation. A small Sysfs interface lets a real /sys
// implementation and an in-memory fake (used by every other component's
// unit tests) share one contract.
package sysfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
)

// Well-known tracing roots, probed in order.
var candidateRoots = []string{
	"/sys/kernel/debug/tracing/",
	"/sys/kernel/tracing/",
}

const (
	traceMarkerNode   = "trace_marker"
	tracingOnNode     = "tracing_on"
	bufferSizeKBNode  = "buffer_size_kb"
	currentTracerNode = "current_tracer"
	traceClockNode    = "trace_clock"
	overwriteNode     = "options/overwrite"
	savedCmdlinesNode = "saved_cmdlines_size"
	recordTgidNode    = "options/record-tgid"
	recordCmdNode     = "options/record-cmd"
	perCPUDir         = "per_cpu"
	eventsDir         = "events"
	aggregatedRawNode = "trace_pipe_raw"

	// SavedCmdlinesSize is written on every Program call.
	SavedCmdlinesSize = 3072
)

// UserTagProperty is the process property holding the active user-tag
// bitmask.
const UserTagProperty = "debug.hitrace.tags.enableflags"

// AppPidProperty holds the optional filter PID.
const AppPidProperty = "debug.hitrace.app_pid"

// Sysfs is the control-surface contract this package exposes to the
// engine. All operations are synchronous and fail with a wrapped error on
// write failure ("fail with FILE_ERROR on write failure").
type Sysfs interface {
	ReadNode(name string) (string, error)
	WriteNode(name string, value string) error
	Truncate(name string) error
	AvailableClocks() (current string, available []string, err error)

	ReadProperty(key string) (string, error)
	WriteProperty(key string, value string) error

	// CPUNodes enumerates the per-CPU trace_pipe_raw node names, in CPU
	// index order, for the writer's per-CPU drain. On an HM kernel it returns the
	// single aggregated pipe node instead.
	CPUNodes() ([]string, error)
	// IsHM reports whether the kernel exposes one aggregated raw pipe
	// instead of per-CPU pipes; the writer then emits a single CPU_RAW
	// section and omits the header-page and printk sections.
	IsHM() bool
	// ListEventFormatNodes enumerates every event's format descriptor
	// node, enabled or not (events/*/format and events/*/*/format), feeding
	// the writer's events-format section.
	ListEventFormatNodes() ([]string, error)
	// OpenRaw opens a node (normally one returned by CPUNodes) for
	// streaming, non-blocking reads, feeding the writer's per-CPU drain.
	OpenRaw(name string) (io.ReadCloser, error)
	TraceMarkerPath() string
	Root() string
}

// realSysfs talks to the real tracing pseudo-filesystem.
type realSysfs struct {
	root string
	mu   sync.Mutex
}

// Discover probes the two well-known tracing roots for a trace_marker
// node, failing open with errdefs.ErrNotSupported if neither exists.
func Discover() (Sysfs, error) {
	for _, root := range candidateRoots {
		if _, err := os.Stat(filepath.Join(root, traceMarkerNode)); err == nil {
			return &realSysfs{root: root}, nil
		}
	}
	return nil, errdefs.ErrNotSupported
}

func (s *realSysfs) Root() string { return s.root }

func (s *realSysfs) TraceMarkerPath() string {
	return filepath.Join(s.root, traceMarkerNode)
}

func (s *realSysfs) path(name string) string {
	return filepath.Join(s.root, name)
}

func (s *realSysfs) ReadNode(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return "", errors.Wrapf(err, "read sysfs node %s", name)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *realSysfs) WriteNode(name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(name), os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "open sysfs node %s", name)
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return errors.Wrapf(err, "write sysfs node %s=%s", name, value)
	}
	return nil
}

// Truncate clears the ring buffer atomically via O_CREAT|O_TRUNC.
func (s *realSysfs) Truncate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "truncate sysfs node %s", name)
	}
	return f.Close()
}

func (s *realSysfs) AvailableClocks() (string, []string, error) {
	raw, err := s.ReadNode(traceClockNode)
	if err != nil {
		return "", nil, err
	}
	// Kernel format: "local global [boot] mono ..." - current is bracketed.
	var current string
	var available []string
	for _, tok := range strings.Fields(raw) {
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			current = strings.Trim(tok, "[]")
			available = append(available, current)
		} else {
			available = append(available, tok)
		}
	}
	return current, available, nil
}

// IsHM probes for the aggregated raw pipe an HM kernel exposes in place
// of the per_cpu directory.
func (s *realSysfs) IsHM() bool {
	if _, err := os.Stat(s.path(perCPUDir)); err == nil {
		return false
	}
	_, err := os.Stat(s.path(aggregatedRawNode))
	return err == nil
}

func (s *realSysfs) CPUNodes() ([]string, error) {
	if s.IsHM() {
		return []string{aggregatedRawNode}, nil
	}
	entries, err := os.ReadDir(s.path(perCPUDir))
	if err != nil {
		return nil, errors.Wrap(err, "list per_cpu dir")
	}
	nodes := make([]string, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "cpu") {
			node := filepath.Join(perCPUDir, e.Name(), "trace_pipe_raw")
			index[node], _ = strconv.Atoi(strings.TrimPrefix(e.Name(), "cpu"))
			nodes = append(nodes, node)
		}
	}
	// os.ReadDir sorts by name (cpu10 before cpu2); order by CPU number.
	sort.SliceStable(nodes, func(i, j int) bool { return index[nodes[i]] < index[nodes[j]] })
	return nodes, nil
}

// ListEventFormatNodes walks the events directory two levels deep
// (events/<subsystem>/format and events/<subsystem>/<event>/format),
// returning each format node's root-relative name in sorted order.
func (s *realSysfs) ListEventFormatNodes() ([]string, error) {
	root := s.path(eventsDir)
	subsystems, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "list events dir")
	}

	var nodes []string
	for _, sub := range subsystems {
		if !sub.IsDir() {
			continue
		}
		subPath := filepath.Join(eventsDir, sub.Name())
		if _, err := os.Stat(s.path(filepath.Join(subPath, "format"))); err == nil {
			nodes = append(nodes, filepath.Join(subPath, "format"))
		}
		events, err := os.ReadDir(filepath.Join(root, sub.Name()))
		if err != nil {
			continue
		}
		for _, ev := range events {
			if !ev.IsDir() {
				continue
			}
			node := filepath.Join(subPath, ev.Name(), "format")
			if _, err := os.Stat(s.path(node)); err == nil {
				nodes = append(nodes, node)
			}
		}
	}
	sort.Strings(nodes)
	return nodes, nil
}

// OpenRaw opens a node for streaming reads, used for trace_pipe_raw nodes
// which are unbounded and must not be slurped whole like ReadNode does.
func (s *realSysfs) OpenRaw(name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, errors.Wrapf(err, "open raw node %s", name)
	}
	return f, nil
}

// readProperty/writeProperty are stubbed through files under the tracing
// root on the real implementation: treated the property surface
// as "semantic, not literal" (consumed via an external collaborator on
// the real target), so this keeps that collaborator's shape without
// hard-coding a particular property-service client.
func (s *realSysfs) ReadProperty(key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ".properties", key))
	if err != nil {
		if os.IsNotExist(err) {
			return "0", nil
		}
		return "", errors.Wrapf(err, "read property %s", key)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *realSysfs) WriteProperty(key string, value string) error {
	dir := filepath.Join(s.root, ".properties")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create properties dir")
	}
	return os.WriteFile(filepath.Join(dir, key), []byte(value), 0644)
}

// FormatUint64Property renders a bitmask the way the property surface
// expects: a decimal string.
func FormatUint64Property(v uint64) string {
	return strconv.FormatUint(v, 10)
}
