/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package logging wires the engine's single logrus logger, optionally
// rotated to disk with lumberjack.
package logging

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogDirName  = "logs"
	defaultLogFileName = "hitrace-dump.log"

	RFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"
)

type RotateLogArgs struct {
	RotateLogMaxSize    int
	RotateLogMaxBackups int
	RotateLogMaxAge     int
	RotateLogLocalTime  bool
	RotateLogCompress   bool
}

var root = logrus.StandardLogger()

// SetUp configures the process-wide logger: either straight to stdout
// (handy under adb/systemd) or to a rotated file under logDir.
func SetUp(logLevel string, logToStdout bool, logDir string, logRotateArgs *RotateLogArgs) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)

	if logToStdout {
		root.SetOutput(os.Stdout)
	} else {
		if logRotateArgs == nil {
			return errors.New("logRotateArgs is needed when logToStdout is false")
		}

		if err := os.MkdirAll(logDir, 0755); err != nil {
			return errors.Wrapf(err, "create log dir %s", logDir)
		}
		logFile := filepath.Join(logDir, defaultLogFileName)

		root.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logRotateArgs.RotateLogMaxSize,
			MaxBackups: logRotateArgs.RotateLogMaxBackups,
			MaxAge:     logRotateArgs.RotateLogMaxAge,
			Compress:   logRotateArgs.RotateLogCompress,
			LocalTime:  logRotateArgs.RotateLogLocalTime,
		})
	}

	root.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	return nil
}

// L returns the shared logger entry that every component logs through
// instead of the standard library's log package.
func L() *logrus.Entry {
	return logrus.NewEntry(root)
}

// WithField tags a log line with the originating component, e.g.
// logging.WithField("component", "snapshot").
func WithField(key string, value interface{}) *logrus.Entry {
	return L().WithField(key, value)
}
