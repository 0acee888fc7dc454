/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package sysfs

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// DisableAll zeroes every event-enable node in kernelNodes, sets the
// user-tag property to 0, shrinks buffer_size_kb to 1 and writes
// tracing_on=0.
func DisableAll(s Sysfs, kernelNodes []string) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, node := range kernelNodes {
		record(s.WriteNode(node, "0"))
	}
	record(s.WriteProperty(UserTagProperty, "0"))
	record(s.WriteNode(bufferSizeKBNode, "1"))
	record(s.WriteNode(tracingOnNode, "0"))

	if firstErr != nil {
		return errors.Wrap(firstErr, "disable all trace nodes")
	}
	return nil
}

// Program enables kernelNodes, ORs userMask into the user-tag property,
// and configures the session-wide knobs.
func Program(s Sysfs, params *trace.Params, kernelNodes []string, userMask uint64) error {
	for _, node := range kernelNodes {
		if err := s.WriteNode(node, "1"); err != nil {
			return errors.Wrapf(err, "enable tag node %s", node)
		}
	}

	if userMask != 0 {
		if err := s.WriteProperty(UserTagProperty, FormatUint64Property(userMask)); err != nil {
			return errors.Wrap(err, "write user-tag property")
		}
	}

	if params.AppPid != 0 {
		if err := s.WriteProperty(AppPidProperty, strconv.Itoa(params.AppPid)); err != nil {
			return errors.Wrap(err, "write app pid property")
		}
	}

	if err := s.WriteNode(currentTracerNode, "nop"); err != nil {
		return errors.Wrap(err, "set current_tracer")
	}

	bufferSize := params.BufferSizeKB
	if bufferSize == 0 {
		bufferSize = 12 * 1024
	}
	if err := s.WriteNode(bufferSizeKBNode, strconv.Itoa(bufferSize)); err != nil {
		return errors.Wrap(err, "set buffer_size_kb")
	}

	if err := SetClock(s, params.ClockType); err != nil {
		return errors.Wrap(err, "set trace_clock")
	}

	overwriteValue := "0"
	if params.Overwrite {
		overwriteValue = "1"
	}
	if err := s.WriteNode(overwriteNode, overwriteValue); err != nil {
		return errors.Wrap(err, "set overwrite option")
	}

	if err := s.WriteNode(savedCmdlinesNode, strconv.Itoa(SavedCmdlinesSize)); err != nil {
		return errors.Wrap(err, "set saved_cmdlines_size")
	}
	if err := s.WriteNode(recordTgidNode, "1"); err != nil {
		return errors.Wrap(err, "set options/record-tgid")
	}
	if err := s.WriteNode(recordCmdNode, "1"); err != nil {
		return errors.Wrap(err, "set options/record-cmd")
	}

	if err := s.WriteNode(tracingOnNode, "1"); err != nil {
		return errors.Wrap(err, "set tracing_on")
	}

	logging.WithField("component", "sysfs").Infof("programmed trace session: %d kernel nodes, mask=%#x", len(kernelNodes), userMask)
	return nil
}

// SetClock reads the kernel's available clocks, defaulting to "boot" on
// an unrecognized name and short-circuiting when the requested clock is
// already current.
func SetClock(s Sysfs, name string) error {
	if name == "" {
		name = trace.DefaultClockType
	}

	current, available, err := s.AvailableClocks()
	if err != nil {
		return err
	}

	found := false
	for _, c := range available {
		if c == name {
			found = true
			break
		}
	}
	if !found {
		name = trace.DefaultClockType
	}

	if current == name {
		return nil
	}

	return s.WriteNode(traceClockNode, name)
}
