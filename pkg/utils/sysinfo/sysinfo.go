/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package sysinfo wraps two syscall-level facts: total system memory
// (not consulted by the engine) and a volume's free space (for the
// snapshot engine's preflight check).
package sysinfo

import (
	"syscall"

	"github.com/pkg/errors"
)

func GetTotalMemoryBytes() (int64, error) {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return 0, errors.Wrap(err, "read sysinfo")
	}
	return int64(info.Totalram) * int64(info.Unit), nil
}

// FreeSpaceBytes returns the number of bytes free for an unprivileged
// writer on the filesystem containing path, via statfs(2).
func FreeSpaceBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, errors.Wrapf(err, "statfs %s", path)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// HasMinFreeSpace reports whether path's volume has at least minMB
// megabytes free, the guard checked before isolating a snapshot worker.
func HasMinFreeSpace(path string, minMB int) (bool, error) {
	free, err := FreeSpaceBytes(path)
	if err != nil {
		return false, err
	}
	return free >= int64(minMB)*1024*1024, nil
}
