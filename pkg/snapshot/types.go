/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package snapshot implements the snapshot engine: dump(maxDuration,
// endTimeWall) producing a time-windowed trace file, either by fast-path
// migrating an already-covering cache file or by isolating a fresh
// capture in a worker process. Go cannot safely fork() the running,
// multi-threaded process, so the isolation step re-execs the same binary
// as a distinguished internal subcommand instead: a detached worker,
// awaited with a deadline, escalated with a signal, built on os/exec and
// golang.org/x/sys/unix directly.
package snapshot

import (
	"context"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// TraceRetInfo is the result a dump returns: errors
// surface as a field, not a panic, and Files may be non-empty even when
// ErrorCode != Success.
type TraceRetInfo struct {
	Mode                  trace.Mode
	Files                 []trace.FileInfo
	CoverageDurationMs    int64
	CoverageRatioPermille int64 // coverage/committed, clamped to 1000
	ErrorCode             errdefs.TraceErrorCode
}

// WorkerRequest describes the time-windowed capture the isolated worker
// must perform.
type WorkerRequest struct {
	OutputPath        string
	WindowStartBootNs uint64
	WindowEndBootNs   uint64
	CPUNodes          []string
	FileCapBytes      int64
	// EventsFormatMemo points at the saved_events_format memo so the
	// worker reuses the format payload assembled by an earlier write
	// instead of re-walking the events tree.
	EventsFormatMemo string
}

// WorkerResult is what the worker reports back after producing (or
// failing to produce) a snapshot file: a dump status plus the first and
// last page timestamps it observed.
type WorkerResult struct {
	DumpStatus  errdefs.TraceErrorCode
	FirstPageTs uint64
	LastPageTs  uint64
}

// Worker isolates one snapshot capture from the calling process, the
// moral equivalent of a fork()'d child. Launch returns once the
// worker has been started; the caller reads exactly one WorkerResult (or
// an error) from the returned channel.
type Worker interface {
	Launch(ctx context.Context, req WorkerRequest) (<-chan WorkerOutcome, error)
}

// WorkerOutcome pairs a WorkerResult with any launch/communication error,
// since the worker boundary can fail in ways distinct from the capture
// itself.
type WorkerOutcome struct {
	Result WorkerResult
	Err    error
	Code   errdefs.TraceErrorCode // populated when Err != nil
}
