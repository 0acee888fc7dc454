/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package snapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
)

// RequestEnvVar and StatusFDEnvVar are how the parent hands the worker its
// request and status-pipe file descriptor across exec, since a re-exec
// carries no Go-native channel with it.
const (
	RequestEnvVar  = "HITRACE_DUMP_WORKER_REQUEST"
	StatusFDEnvVar = "HITRACE_DUMP_WORKER_STATUS_FD"

	// killGrace is how long the parent waits for the child to exit after
	// SIGUSR1 before escalating to SIGKILL.
	killGrace = 2 * time.Second
)

// RealWorker isolates a snapshot capture by re-executing the current
// binary as `<self> __snapshot-worker`, the closest equivalent of a
// fork+pipe+epoll child this package can reach without a raw fork() of a
// multi-threaded Go process.
type RealWorker struct {
	// SelfPath overrides os.Executable(), mainly for tests.
	SelfPath string
}

func (w *RealWorker) selfPath() (string, error) {
	if w.SelfPath != "" {
		return w.SelfPath, nil
	}
	return os.Executable()
}

// Launch starts the worker subprocess and returns a channel that receives
// exactly one WorkerOutcome once the worker reports status, times out, or
// the wait fails. A failure to launch is returned as the error instead.
func (w *RealWorker) Launch(ctx context.Context, req WorkerRequest) (<-chan WorkerOutcome, error) {
	self, err := w.selfPath()
	if err != nil {
		return nil, errdefs.New(errdefs.ForkError, errors.Wrap(err, "resolve self executable"))
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		return nil, errdefs.New(errdefs.PipeCreateError, errors.Wrap(err, "create status pipe"))
	}
	readFd, writeFd := fds[0], fds[1]

	payload, err := json.Marshal(req)
	if err != nil {
		unix.Close(readFd)
		unix.Close(writeFd)
		return nil, errdefs.New(errdefs.ForkError, errors.Wrap(err, "marshal worker request"))
	}

	cmd := exec.Command(self, "__snapshot-worker")
	writeEnd := os.NewFile(uintptr(writeFd), "hitrace-dump-status-write")
	cmd.ExtraFiles = []*os.File{writeEnd}
	cmd.Env = append(os.Environ(),
		RequestEnvVar+"="+base64.StdEncoding.EncodeToString(payload),
		fmt.Sprintf("%s=%d", StatusFDEnvVar, 3), // fd 3: stdin/stdout/stderr (0-2), then ExtraFiles[0]
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		unix.Close(readFd)
		return nil, errdefs.New(errdefs.ForkError, errors.Wrap(err, "start snapshot worker"))
	}
	// The parent only reads; closing its copy of the write end lets
	// EPOLLIN+EOF fire if the child dies without writing a status.
	writeEnd.Close()

	outcomeCh := make(chan WorkerOutcome, 1)
	go waitForWorker(ctx, cmd, readFd, outcomeCh)
	return outcomeCh, nil
}

func waitForWorker(ctx context.Context, cmd *exec.Cmd, readFd int, outcomeCh chan<- WorkerOutcome) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		escalateAndReap(cmd)
		unix.Close(readFd)
		outcomeCh <- WorkerOutcome{Err: errors.Wrap(err, "epoll_create1"), Code: errdefs.EpollWaitError}
		return
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(readFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, readFd, &ev); err != nil {
		escalateAndReap(cmd)
		unix.Close(readFd)
		outcomeCh <- WorkerOutcome{Err: errors.Wrap(err, "epoll_ctl"), Code: errdefs.EpollWaitError}
		return
	}

	timeoutMs := -1
	if deadline, ok := ctx.Deadline(); ok {
		timeoutMs = int(time.Until(deadline).Milliseconds())
		if timeoutMs < 0 {
			timeoutMs = 0
		}
	}

	events := make([]unix.EpollEvent, 1)
	n, err := unix.EpollWait(epfd, events, timeoutMs)
	if err != nil || n <= 0 {
		escalateAndReap(cmd)
		unix.Close(readFd)
		if err != nil {
			outcomeCh <- WorkerOutcome{Err: errors.Wrap(err, "epoll_wait"), Code: errdefs.EpollWaitError}
		} else {
			outcomeCh <- WorkerOutcome{Err: errors.New("snapshot worker timed out"), Code: errdefs.EpollWaitError}
		}
		return
	}

	readEnd := os.NewFile(uintptr(readFd), "hitrace-dump-status-read")
	data, _ := io.ReadAll(readEnd)
	readEnd.Close()

	_ = cmd.Wait() // reap; exit status is carried in the JSON payload, not the process exit code

	var result WorkerResult
	if err := json.Unmarshal(data, &result); err != nil {
		outcomeCh <- WorkerOutcome{Err: errors.Wrap(err, "decode worker status"), Code: errdefs.FileError}
		return
	}
	outcomeCh <- WorkerOutcome{Result: result}
}

// escalateAndReap sends SIGUSR1 (the worker's installed fast-exit
// signal) and waits killGrace before falling back to SIGKILL.
func escalateAndReap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}
