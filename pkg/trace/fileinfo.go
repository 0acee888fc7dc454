/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// MaxSpanMillis is the corrupt-metadata guard:
// no legitimate trace file spans more than 2000 seconds.
const MaxSpanMillis = 2000 * 1000

// CachePrefix marks a cache-pool file until it migrates to the snapshot
// pool.
const CachePrefix = "cache_"

// FileInfo is the on-disk trace file record.
type FileInfo struct {
	Path       string
	StartMs    int64
	EndMs      int64
	SizeBytes  int64
	IsCache    bool
	NewSession bool // tags a file produced during the current record/cache session, consumed by RecordOff
}

// Validate enforces the universal invariant: start <=
// end and the span is under the corruption guard.
func (f FileInfo) Validate() error {
	if f.StartMs > f.EndMs {
		return errors.Errorf("trace file %s has start %d after end %d", f.Path, f.StartMs, f.EndMs)
	}
	if f.EndMs-f.StartMs >= MaxSpanMillis {
		return errors.Errorf("trace file %s spans %dms, exceeds %dms guard", f.Path, f.EndMs-f.StartMs, MaxSpanMillis)
	}
	return nil
}

var filenamePattern = regexp.MustCompile(`^(cache_)?trace_(\d+)_(\d+)\.sys$`)

// FileName derives the canonical filename for f:
// trace_<startMs>_<endMs>.sys, cache_-prefixed while still in the cache
// pool.
func (f FileInfo) FileName() string {
	prefix := ""
	if f.IsCache {
		prefix = CachePrefix
	}
	return fmt.Sprintf("%strace_%d_%d.sys", prefix, f.StartMs, f.EndMs)
}

// ParseFileName extracts the cache-ness and time range embedded in a
// trace filename, the inverse of FileName, used by the pool refresh.
func ParseFileName(name string) (isCache bool, startMs, endMs int64, err error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return false, 0, 0, errors.Errorf("%q does not match trace filename pattern", name)
	}
	start, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return false, 0, 0, errors.Wrapf(err, "parse start time in %q", name)
	}
	end, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return false, 0, 0, errors.Wrapf(err, "parse end time in %q", name)
	}
	return m[1] == CachePrefix, start, end, nil
}

// FileInfoFromPath builds a FileInfo by parsing the basename of path,
// reading its size lazily left to the caller (the pool stats the file).
func FileInfoFromPath(path string, size int64) (FileInfo, error) {
	isCache, start, end, err := ParseFileName(filepath.Base(path))
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:      path,
		StartMs:   start,
		EndMs:     end,
		SizeBytes: size,
		IsCache:   isCache,
	}, nil
}
