/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package container implements the self-describing binary trace
// container: a fixed file header followed by typed, length-prefixed
// sections. Raw per-CPU payload is streamed through a
// staging buffer with time-window filtering so a single writer can serve
// the snapshot, recording and cache engines alike.
package container

import (
	"encoding/binary"

	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// Magic identifies a hitrace-dump container file.
const Magic uint16 = 0xDF49

// Format names the two on-disk header encodings. Version2 is the only
// one this package writes; Version1 is named so the decision not to emit
// it stays visible rather than silently dropped.
type Format uint16

const (
	Version1 Format = 1 // legacy enum-mode header; documented, never written
	Version2 Format = 2 // bitset-mode header; the only format this writer emits
)

// FileType distinguishes the standard per-CPU layout from the HM
// (aggregated single-pipe) kernel variant.
type FileType uint8

const (
	FileTypeStandard FileType = 0
	FileTypeHM       FileType = 1
)

// ContentType tags each section's payload kind.
type ContentType uint8

const (
	ContentEventsFormat  ContentType = 1
	ContentCmdlines      ContentType = 2
	ContentTgids         ContentType = 3
	ContentCPURawBase    ContentType = 4 // CPU_RAW = 4..4+N-1, one per CPU index
	ContentHeaderPage    ContentType = 30
	ContentPrintkFormats ContentType = 31
	ContentKallsyms      ContentType = 32
	ContentBaseInfo      ContentType = 33
)

// CPURawContentType returns the content type tagging CPU index cpu's raw
// section ("CPU_RAW=4..4+N-1").
func CPURawContentType(cpu int) ContentType {
	return ContentCPURawBase + ContentType(cpu)
}

// HeaderSize is the fixed 8-byte, 4-aligned file header.
const HeaderSize = 8

// ContentHeaderSize is the fixed 8-byte, 4-aligned per-section header.
const ContentHeaderSize = 8

// MaxCPUCount bounds the reserved field's cpuCount bits.
const MaxCPUCount = 24

// Header is the first 8 bytes of every container file.
type Header struct {
	Magic    uint16
	FileType FileType
	Version  Format
	Is32Bit  bool
	CPUCount int
}

// Encode renders h into the 8-byte, little-endian layout: magic (u16),
// fileType (u8), version (u8 — a u16 version doesn't fit an 8-byte header
// alongside a u32 reserved field, and its only legal values, 1 and 2,
// both fit one byte), reserved (u32, bit0 the word-size flag and the
// remaining bits cpuCount).
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Magic)
	buf[2] = byte(h.FileType)
	buf[3] = byte(h.Version)

	var reserved uint32
	if h.Is32Bit {
		reserved |= 1
	}
	reserved |= uint32(h.CPUCount&0xFFFFFF) << 1
	binary.LittleEndian.PutUint32(buf[4:8], reserved)
	return buf
}

// DecodeHeader parses the 8-byte file header produced by Header.Encode.
func DecodeHeader(buf []byte) Header {
	reserved := binary.LittleEndian.Uint32(buf[4:8])
	return Header{
		Magic:    binary.LittleEndian.Uint16(buf[0:2]),
		FileType: FileType(buf[2]),
		Version:  Format(buf[3]),
		Is32Bit:  reserved&1 != 0,
		CPUCount: int((reserved >> 1) & 0xFFFFFF),
	}
}

// ContentHeader is the 8-byte section header preceding each payload.
type ContentHeader struct {
	Type   ContentType
	Length uint32
}

// Encode renders h: `{u8 type, u32 length}`, 4-byte
// aligned, with 3 padding bytes between type and length.
func (h ContentHeader) Encode() []byte {
	buf := make([]byte, ContentHeaderSize)
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], h.Length)
	return buf
}

// DecodeContentHeader parses an 8-byte section header.
func DecodeContentHeader(buf []byte) ContentHeader {
	return ContentHeader{
		Type:   ContentType(buf[0]),
		Length: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// PageSize and PageHeaderSize are re-exported from pkg/trace so callers of
// this package don't need a second import for the raw-page shape.
const (
	PageSize       = trace.PageSize
	PageHeaderSize = trace.PageHeaderSize
)

// StagingBufferSize is the fixed staging buffer for time-windowed raw
// streaming.
const StagingBufferSize = 1 << 20 // 1 MiB

// DefaultRecordingFileCapBytes and DefaultCacheFileCapBytes are the
// default per-file size caps. Production callers override these from
// config; tests use the smaller cache cap directly.
const (
	DefaultRecordingFileCapBytes = 100 * 1024 * 1024
	DefaultCacheFileCapBytes     = 150 * 1024 * 1024
	TestCacheFileCapBytes        = 15 * 1024 * 1024
)
