/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PageSize is the kernel ring-buffer's fixed page unit.
const PageSize = 4096

// PageHeaderSize is the header prefix every raw page carries: an 8-byte
// CPU-clock timestamp, an 8-byte size, and a 1-byte overwrite flag.
const PageHeaderSize = 17

// PageHeader is the first 17 bytes of a ring-buffer page.
type PageHeader struct {
	Timestamp uint64 // CPU clock, in the session's selected clock domain
	Size      uint64
	Overwrite uint8
}

// ParsePageHeader decodes the header prefix of a raw kernel page. buf must
// be at least PageHeaderSize bytes.
func ParsePageHeader(buf []byte) (PageHeader, error) {
	if len(buf) < PageHeaderSize {
		return PageHeader{}, errors.Errorf("short page header: %d bytes, want %d", len(buf), PageHeaderSize)
	}
	return PageHeader{
		Timestamp: binary.LittleEndian.Uint64(buf[0:8]),
		Size:      binary.LittleEndian.Uint64(buf[8:16]),
		Overwrite: buf[16],
	}, nil
}

// ShortPageThreshold is the read-length cutoff (header included) below which a page is
// considered "short"; two consecutive short pages signal the kernel has
// drained the per-CPU buffer.
const ShortPageThreshold = PageSize / 2
