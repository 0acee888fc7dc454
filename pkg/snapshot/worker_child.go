/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/container"
	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
)

// clockSyncSleep lets the clock-sync marker write propagate into the
// ring buffer before the capture starts.
const clockSyncSleep = 10 * time.Millisecond

// RunChild is the entry point for the `__snapshot-worker` re-exec
// subcommand: it decodes its WorkerRequest from the environment, performs
// the isolated time-windowed capture, and writes its WorkerResult to the
// inherited status-pipe fd before exiting. It never returns in the
// process sense (the caller should os.Exit with the returned code), but
// is structured as a plain function so it stays testable.
func RunChild(sys sysfs.Sysfs) int {
	installTimeoutHandler()

	req, err := decodeRequest()
	if err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("decode worker request")
		return reportAndExit(WorkerResult{DumpStatus: errdefs.FileError})
	}

	markClockSync(sys)
	time.Sleep(clockSyncSleep)

	result := capture(sys, req)
	return reportAndExit(result)
}

// installTimeoutHandler installs a SIGUSR1 handler that exits
// immediately, the parent's last resort past the 10s deadline.
func installTimeoutHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		<-ch
		os.Exit(1)
	}()
}

func decodeRequest() (WorkerRequest, error) {
	enc := os.Getenv(RequestEnvVar)
	if enc == "" {
		return WorkerRequest{}, errors.Errorf("%s not set", RequestEnvVar)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return WorkerRequest{}, errors.Wrap(err, "decode worker request")
	}
	var req WorkerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return WorkerRequest{}, errors.Wrap(err, "unmarshal worker request")
	}
	return req, nil
}

// markClockSync writes a trace-marker line pairing this moment's boot
// and wall clocks, giving later analysis a synchronization point between
// the two domains. Failure is logged, not fatal: a missing sync marker
// degrades clock correlation but doesn't block the capture itself.
func markClockSync(sys sysfs.Sysfs) {
	f, err := os.OpenFile(sys.TraceMarkerPath(), os.O_WRONLY, 0)
	if err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Warn("open trace_marker for clock sync")
		return
	}
	defer f.Close()

	line := fmt.Sprintf("trace_event_clock_sync: parent_ts=%d\n", time.Now().UnixNano())
	if _, err := f.WriteString(line); err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Warn("write clock sync marker")
	}
}

func capture(sys sysfs.Sysfs, req WorkerRequest) WorkerResult {
	fileType := container.FileTypeStandard
	if sys.IsHM() {
		fileType = container.FileTypeHM
	}
	w, err := container.NewWriter(req.OutputPath, container.WriterOptions{
		FileType:     fileType,
		CPUCount:     len(req.CPUNodes),
		SizeCapBytes: req.FileCapBytes,
	})
	if err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("create snapshot writer")
		return WorkerResult{DumpStatus: errdefs.FileError}
	}
	defer w.Close()

	if err := container.WriteLeadingSections(w, sys, req.EventsFormatMemo); err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("write leading sections")
		return WorkerResult{DumpStatus: errdefs.FileError}
	}

	var totalBytes int64
	var minTS, maxTS uint64
	for cpu, node := range req.CPUNodes {
		src, err := sys.OpenRaw(node)
		if err != nil {
			logging.WithField("component", "snapshot-worker").WithError(err).Debugf("open raw node %s", node)
			continue
		}
		result, err := w.WriteCPURawSection(cpu, src, req.WindowStartBootNs, req.WindowEndBootNs)
		src.Close()
		if err != nil {
			logging.WithField("component", "snapshot-worker").WithError(err).Errorf("write raw section for %s", node)
			continue
		}
		totalBytes += result.BytesWritten
		if result.MinTimestamp != 0 && (minTS == 0 || result.MinTimestamp < minTS) {
			minTS = result.MinTimestamp
		}
		if result.MaxTimestamp > maxTS {
			maxTS = result.MaxTimestamp
		}
	}

	// Only if no CPU-raw bytes were written at all does the dump count as
	// OUT_OF_TIME; any successful bytes promote it to SUCCESS.
	if totalBytes == 0 {
		return WorkerResult{DumpStatus: errdefs.OutOfTime}
	}

	if err := container.WriteTrailingSections(w, sys, sys.IsHM()); err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Warn("write trailing sections")
	}
	return WorkerResult{DumpStatus: errdefs.Success, FirstPageTs: minTS, LastPageTs: maxTS}
}

func reportAndExit(result WorkerResult) int {
	payload, err := json.Marshal(result)
	if err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("marshal worker result")
		return 1
	}

	fdStr := os.Getenv(StatusFDEnvVar)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("parse status fd")
		return 1
	}

	statusFile := os.NewFile(uintptr(fd), "hitrace-dump-status-write")
	if statusFile == nil {
		logging.WithField("component", "snapshot-worker").Error("status fd is not open")
		return 1
	}
	defer statusFile.Close()

	if _, err := statusFile.Write(payload); err != nil {
		logging.WithField("component", "snapshot-worker").WithError(err).Error("write worker status")
		return 1
	}
	if result.DumpStatus != errdefs.Success {
		return 1
	}
	return 0
}
