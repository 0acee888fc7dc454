/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package errdefs carries the engine's public error taxonomy (returned by
// the coordinator façade) plus the sentinel errors shared by internal
// packages, the way the daemon's own errdefs keeps both concerns in one
// small package.
package errdefs

import (
	"strings"

	"github.com/pkg/errors"
)

// TraceErrorCode is the coordinator's public error taxonomy. Every façade
// entry point resolves its terminal error, if any, to one of these.
type TraceErrorCode uint8

const (
	Success TraceErrorCode = iota
	TraceNotSupported
	TraceIsOccupied
	TagError
	FileError
	WriteTraceInfoError
	WrongTraceMode
	OutOfTime
	ForkError
	InvalidMaxDuration
	EpollWaitError
	PipeCreateError
	SysinfoReadFailure
	Unset TraceErrorCode = 255
)

func (c TraceErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case TraceNotSupported:
		return "TRACE_NOT_SUPPORTED"
	case TraceIsOccupied:
		return "TRACE_IS_OCCUPIED"
	case TagError:
		return "TAG_ERROR"
	case FileError:
		return "FILE_ERROR"
	case WriteTraceInfoError:
		return "WRITE_TRACE_INFO_ERROR"
	case WrongTraceMode:
		return "WRONG_TRACE_MODE"
	case OutOfTime:
		return "OUT_OF_TIME"
	case ForkError:
		return "FORK_ERROR"
	case InvalidMaxDuration:
		return "INVALID_MAX_DURATION"
	case EpollWaitError:
		return "EPOLL_WAIT_ERROR"
	case PipeCreateError:
		return "PIPE_CREATE_ERROR"
	case SysinfoReadFailure:
		return "SYSINFO_READ_FAILURE"
	case Unset:
		return "UNSET"
	default:
		return "UNKNOWN"
	}
}

// TraceError pairs a public error code with the internal cause, so
// internal packages can keep wrapping errors with github.com/pkg/errors
// context while the façade still has a stable code to return.
type TraceError struct {
	Code  TraceErrorCode
	cause error
}

func New(code TraceErrorCode, cause error) *TraceError {
	return &TraceError{Code: code, cause: cause}
}

func (e *TraceError) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.cause.Error()
}

func (e *TraceError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the TraceErrorCode carried by err, defaulting to
// Success for a nil error and FileError for an unrecognized one, mirroring
// how the façade never lets an internal Go error escape unmapped.
func CodeOf(err error) TraceErrorCode {
	if err == nil {
		return Success
	}
	var te *TraceError
	if errors.As(err, &te) {
		return te.Code
	}
	return FileError
}

// Sentinel errors shared across internal packages.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotSupported  = errors.New("trace pseudo-filesystem not found")
	ErrWrongMode     = errors.New("operation not legal in current trace mode")
)

// IsNotFound returns true if the error is due to a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error is due to already exists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

const signalKilled = "signal: killed"

// IsSignalKilled returns true if the error is signal killed, as seen when
// a snapshot child worker is reaped after an escalated SIGUSR1/SIGKILL.
func IsSignalKilled(err error) bool {
	return err != nil && strings.Contains(err.Error(), signalKilled)
}
