/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package container

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// WriterOptions configures a Writer's target file and limits.
type WriterOptions struct {
	Format       Format // must be Version2; Version1 is rejected
	FileType     FileType
	Is32Bit      bool
	CPUCount     int
	SizeCapBytes int64 // running file size beyond which a raw section ends cleanly
}

// Writer streams one container file to disk.
type Writer struct {
	f       *os.File
	opts    WriterOptions
	written int64 // total bytes committed to f so far, including the file header
}

// NewWriter creates path, writes the fixed file header, and returns a
// Writer ready to accept sections. The caller owns closing the returned
// Writer (which closes the underlying file).
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.Format == 0 {
		opts.Format = Version2
	}
	if opts.Format != Version2 {
		return nil, errors.Errorf("container: only Version2 is written by this implementation (got %d)", opts.Format)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create container file %s", path)
	}

	w := &Writer{f: f, opts: opts}
	header := Header{
		Magic:    Magic,
		FileType: opts.FileType,
		Version:  opts.Format,
		Is32Bit:  opts.Is32Bit,
		CPUCount: opts.CPUCount,
	}
	if _, err := f.Write(header.Encode()); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write container file header")
	}
	w.written = HeaderSize
	return w, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Size returns the number of bytes committed to the file so far.
func (w *Writer) Size() int64 {
	return w.written
}

// WouldExceedCap reports whether committing extra bytes would push the
// file past its configured size cap.
func (w *Writer) WouldExceedCap(extra int64) bool {
	if w.opts.SizeCapBytes <= 0 {
		return false
	}
	return w.written+extra > w.opts.SizeCapBytes
}

// WriteSection writes a complete, non-streamed section: header then
// payload. Used for base-info, events-format, cmdlines, tgids and the
// other fixed-size sections.
func (w *Writer) WriteSection(contentType ContentType, payload []byte) error {
	header := ContentHeader{Type: contentType, Length: uint32(len(payload))}
	if _, err := w.f.Write(header.Encode()); err != nil {
		return errors.Wrap(err, "write section header")
	}
	if len(payload) > 0 {
		if _, err := w.f.Write(payload); err != nil {
			return errors.Wrap(err, "write section payload")
		}
	}
	w.written += ContentHeaderSize + int64(len(payload))
	return nil
}

// RawSectionResult summarizes a time-windowed CPU-raw section write.
type RawSectionResult struct {
	BytesWritten int64
	MinTimestamp uint64
	MaxTimestamp uint64
	HitSizeCap   bool // section ended because the file size cap was reached
	Drained      bool // section ended because the kernel buffer drained (two short pages)
}

// WriteCPURawSection streams source (a per-CPU trace_pipe_raw reader) into
// a CPU_RAW section, filtering pages to [windowStartNs, windowEndNs] in
// the kernel's clock domain. A zero windowEndNs disables
// the upper bound. Recording and cache use WriteCPURawSectionContinuous
// instead, which drains until told to stop.
func (w *Writer) WriteCPURawSection(cpu int, source io.Reader, windowStartNs, windowEndNs uint64) (RawSectionResult, error) {
	var result RawSectionResult
	staging := make([]byte, 0, StagingBufferSize)
	page := make([]byte, PageSize)
	consecutiveShort := 0

	flush := func() error {
		if len(staging) == 0 {
			return nil
		}
		if _, err := w.f.Write(staging); err != nil {
			return errors.Wrap(err, "flush raw staging buffer")
		}
		result.BytesWritten += int64(len(staging))
		w.written += int64(len(staging))
		staging = staging[:0]
		return nil
	}

	headerPos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return result, errors.Wrap(err, "seek before section header")
	}
	placeholder := ContentHeader{Type: CPURawContentType(cpu), Length: 0}
	if _, err := w.f.Write(placeholder.Encode()); err != nil {
		return result, errors.Wrap(err, "write raw section placeholder header")
	}
	w.written += ContentHeaderSize

readLoop:
	for {
		// A single Read call per iteration: trace_pipe_raw hands back at
		// most one page per read(), so there is no partial-page refill to perform here.
		n, rerr := source.Read(page)
		if n == 0 {
			if rerr == io.EOF {
				result.Drained = true
				break readLoop
			}
			if rerr != nil {
				return result, errors.Wrap(rerr, "read raw page")
			}
			continue
		}

		hdr, perr := trace.ParsePageHeader(page[:n])
		if perr == nil {
			ts := hdr.Timestamp
			if windowEndNs != 0 && ts > windowEndNs {
				break readLoop
			}
			if ts < windowStartNs {
				if rerr == io.EOF {
					result.Drained = true
					break readLoop
				}
				continue
			}
			if result.MinTimestamp == 0 || ts < result.MinTimestamp {
				result.MinTimestamp = ts
			}
			if ts > result.MaxTimestamp {
				result.MaxTimestamp = ts
			}
		}

		if w.WouldExceedCap(int64(len(staging) + n)) {
			if err := flush(); err != nil {
				return result, err
			}
			result.HitSizeCap = true
			break readLoop
		}

		staging = append(staging, page[:n]...)
		if len(staging)+PageSize > StagingBufferSize {
			if err := flush(); err != nil {
				return result, err
			}
		}

		if n < trace.ShortPageThreshold {
			consecutiveShort++
			if consecutiveShort >= 2 {
				result.Drained = true
				break readLoop
			}
		} else {
			consecutiveShort = 0
		}

		if rerr == io.EOF {
			result.Drained = true
			break readLoop
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	final := ContentHeader{Type: CPURawContentType(cpu), Length: uint32(result.BytesWritten)}
	endPos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return result, errors.Wrap(err, "seek before rewriting raw section header")
	}
	if _, err := w.f.Seek(headerPos, io.SeekStart); err != nil {
		return result, errors.Wrap(err, "seek to raw section header")
	}
	if _, err := w.f.Write(final.Encode()); err != nil {
		return result, errors.Wrap(err, "rewrite raw section header")
	}
	if _, err := w.f.Seek(endPos, io.SeekStart); err != nil {
		return result, errors.Wrap(err, "restore write position after header rewrite")
	}

	return result, nil
}

// WriteCPURawSectionContinuous drains source into a CPU_RAW section for as
// long as shouldContinue returns true, polling every pollInterval when no
// page is immediately available (io.EOF from source.Read signals "no data
// right now", matching trace_pipe_raw's non-blocking EAGAIN behavior).
// Unlike WriteCPURawSection, it never infers
// "kernel drained" from short pages — recording and cache sessions
// are open-ended until the caller's shouldContinue
// flips, not windowed to a fixed end time. It returns early, with
// HitSizeCap set, if the file's size cap would otherwise be exceeded.
func (w *Writer) WriteCPURawSectionContinuous(cpu int, source io.Reader, shouldContinue func() bool, pollInterval time.Duration) (RawSectionResult, error) {
	var result RawSectionResult
	staging := make([]byte, 0, StagingBufferSize)
	page := make([]byte, PageSize)

	flush := func() error {
		if len(staging) == 0 {
			return nil
		}
		if _, err := w.f.Write(staging); err != nil {
			return errors.Wrap(err, "flush raw staging buffer")
		}
		result.BytesWritten += int64(len(staging))
		w.written += int64(len(staging))
		staging = staging[:0]
		return nil
	}

	headerPos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return result, errors.Wrap(err, "seek before section header")
	}
	placeholder := ContentHeader{Type: CPURawContentType(cpu), Length: 0}
	if _, err := w.f.Write(placeholder.Encode()); err != nil {
		return result, errors.Wrap(err, "write raw section placeholder header")
	}
	w.written += ContentHeaderSize

	for shouldContinue() {
		n, rerr := source.Read(page)
		if n == 0 {
			if rerr != nil && rerr != io.EOF {
				return result, errors.Wrap(rerr, "read raw page")
			}
			time.Sleep(pollInterval)
			continue
		}

		if hdr, perr := trace.ParsePageHeader(page[:n]); perr == nil {
			if result.MinTimestamp == 0 || hdr.Timestamp < result.MinTimestamp {
				result.MinTimestamp = hdr.Timestamp
			}
			if hdr.Timestamp > result.MaxTimestamp {
				result.MaxTimestamp = hdr.Timestamp
			}
		}

		if w.WouldExceedCap(int64(len(staging) + n)) {
			if err := flush(); err != nil {
				return result, err
			}
			result.HitSizeCap = true
			break
		}

		staging = append(staging, page[:n]...)
		if len(staging)+PageSize > StagingBufferSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	final := ContentHeader{Type: CPURawContentType(cpu), Length: uint32(result.BytesWritten)}
	endPos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return result, errors.Wrap(err, "seek before rewriting raw section header")
	}
	if _, err := w.f.Seek(headerPos, io.SeekStart); err != nil {
		return result, errors.Wrap(err, "seek to raw section header")
	}
	if _, err := w.f.Write(final.Encode()); err != nil {
		return result, errors.Wrap(err, "rewrite raw section header")
	}
	if _, err := w.f.Seek(endPos, io.SeekStart); err != nil {
		return result, errors.Wrap(err, "restore write position after header rewrite")
	}

	return result, nil
}
