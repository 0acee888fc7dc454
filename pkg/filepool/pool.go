/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package filepool implements the file pool and ageing logic shared by
// the snapshot, recording and cache engines: refreshing a pool from
// disk, pruning it by count/size/duration, migrating cache files into
// the snapshot pool, and answering time-window overlap queries.
package filepool

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/metrics"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// OverlapToleranceMs is the slack added to an overlap query's window.
const OverlapToleranceMs = 100

// Pool is a single ageing pool (snapshot, recording, or cache) backed by
// one output directory.
type Pool struct {
	mu      sync.Mutex
	dir     string
	isCache bool   // only entries with this IsCache value are tracked by Refresh
	name    string // metrics label; empty disables reporting
	entries []trace.FileInfo
}

// New returns an empty pool rooted at dir. isCache selects which filename
// variant (cache_-prefixed or not) Refresh scans for.
func New(dir string, isCache bool) *Pool {
	return &Pool{dir: dir, isCache: isCache}
}

// WithName attaches the pool=<name> label used when reporting
// hitrace_pool_files/hitrace_pool_bytes to prometheus. Without a name, a
// pool never touches the metrics package (used by tests that don't care
// to register against the global registry).
func (p *Pool) WithName(name string) *Pool {
	p.name = name
	return p
}

// reportMetrics publishes the pool's current file count and total size.
// Caller holds p.mu.
func (p *Pool) reportMetrics() {
	if p.name == "" {
		return
	}
	var total int64
	for _, fi := range p.entries {
		total += fi.SizeBytes
	}
	metrics.PoolFiles.WithLabelValues(p.name).Set(float64(len(p.entries)))
	metrics.PoolBytes.WithLabelValues(p.name).Set(float64(total))
}

// Dir returns the pool's output directory.
func (p *Pool) Dir() string { return p.dir }

// Refresh rescans the pool's directory, repopulating entries sorted by
// start time.
func (p *Pool) Refresh() error {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.entries = nil
			p.mu.Unlock()
			return nil
		}
		return errdefs.New(errdefs.FileError, errors.Wrapf(err, "scan pool dir %s", p.dir))
	}

	var fresh []trace.FileInfo
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(p.dir, de.Name())
		info, err := de.Info()
		if err != nil {
			continue
		}
		fi, err := trace.FileInfoFromPath(path, info.Size())
		if err != nil {
			continue // not a trace file; ignore silently, matching a tolerant directory scan
		}
		if fi.IsCache != p.isCache {
			continue
		}
		fresh = append(fresh, fi)
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].StartMs < fresh[j].StartMs })

	p.mu.Lock()
	p.entries = fresh
	p.reportMetrics()
	p.mu.Unlock()
	return nil
}

// Add appends a newly-written file's record, keeping entries sorted by
// start time.
func (p *Pool) Add(fi trace.FileInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, fi)
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].StartMs < p.entries[j].StartMs })
	p.reportMetrics()
}

// Clear drops the in-memory index without touching disk; close empties
// every pool this way so a later open rescans filesystem truth.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.reportMetrics()
}

// Entries returns a snapshot copy of the pool's current entries.
func (p *Pool) Entries() []trace.FileInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]trace.FileInfo, len(p.entries))
	copy(out, p.entries)
	return out
}

// removeOldest deletes the pool's n oldest entries from disk and from the
// in-memory list, returning their paths. Caller holds p.mu.
func (p *Pool) removeOldest(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > len(p.entries) {
		n = len(p.entries)
	}
	removed := make([]string, 0, n)
	var firstErr error
	for i := 0; i < n; i++ {
		path := p.entries[i].Path
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		removed = append(removed, path)
	}
	p.entries = p.entries[n:]
	p.reportMetrics()
	if firstErr != nil {
		return removed, errdefs.New(errdefs.FileError, errors.Wrap(firstErr, "remove aged trace file"))
	}
	return removed, nil
}

// AgeByCount keeps at most maxCount files, oldest-first eviction.
func (p *Pool) AgeByCount(maxCount int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxCount <= 0 || len(p.entries) <= maxCount {
		return nil, nil
	}
	return p.removeOldest(len(p.entries) - maxCount)
}

// AgeByTotalSize removes the oldest files while the pool's summed size
// exceeds capBytes.
func (p *Pool) AgeByTotalSize(capBytes int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capBytes <= 0 {
		return nil, nil
	}

	var total int64
	for _, fi := range p.entries {
		total += fi.SizeBytes
	}

	var removed []string
	for total > capBytes && len(p.entries) > 0 {
		victim := p.entries[0]
		r, err := p.removeOldest(1)
		removed = append(removed, r...)
		if err != nil {
			return removed, err
		}
		total -= victim.SizeBytes
	}
	return removed, nil
}

// AgeByDuration removes files whose end time is older than retention
// relative to now; only the cache pool is aged this way.
func (p *Pool) AgeByDuration(retention time.Duration, now time.Time) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoffMs := now.Add(-retention).UnixMilli()
	evict := 0
	for evict < len(p.entries) && p.entries[evict].EndMs < cutoffMs {
		evict++
	}
	return p.removeOldest(evict)
}

// FindOverlapping returns every entry whose [StartMs, EndMs] intersects
// [startMs-tol, endMs+tol], tolerance OverlapToleranceMs, skipping entries
// that fail the corruption guard in trace.FileInfo.Validate. It also
// returns the summed covered duration, clipped to the requested window.
func (p *Pool) FindOverlapping(startMs, endMs int64) ([]trace.FileInfo, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	loBound := startMs - OverlapToleranceMs
	hiBound := endMs + OverlapToleranceMs

	var matches []trace.FileInfo
	var covered int64
	for _, fi := range p.entries {
		if fi.Validate() != nil {
			continue
		}
		if fi.EndMs < loBound || fi.StartMs > hiBound {
			continue
		}
		matches = append(matches, fi)

		clipStart := fi.StartMs
		if clipStart < startMs {
			clipStart = startMs
		}
		clipEnd := fi.EndMs
		if clipEnd > endMs {
			clipEnd = endMs
		}
		if clipEnd > clipStart {
			covered += clipEnd - clipStart
		}
	}
	return matches, covered
}

// MigrateToSnapshot moves fi from the cache pool (p) into the snapshot
// pool dst, renaming the file to strip its cache_ prefix.
func (p *Pool) MigrateToSnapshot(fi trace.FileInfo, dst *Pool) (trace.FileInfo, error) {
	if !fi.IsCache {
		return trace.FileInfo{}, errors.Errorf("migrate: %s is not a cache-pool file", fi.Path)
	}

	migrated := fi
	migrated.IsCache = false
	migrated.NewSession = fi.NewSession
	newPath := filepath.Join(dst.dir, migrated.FileName())

	if err := os.Rename(fi.Path, newPath); err != nil {
		return trace.FileInfo{}, errdefs.New(errdefs.FileError, errors.Wrapf(err, "migrate %s to %s", fi.Path, newPath))
	}
	migrated.Path = newPath

	p.mu.Lock()
	for i, e := range p.entries {
		if e.Path == fi.Path {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.reportMetrics()
	p.mu.Unlock()

	dst.Add(migrated)
	return migrated, nil
}
