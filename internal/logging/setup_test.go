/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 */

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const TestLogDirName = "test-rotate-logs"

func getRotateLogFileNumbers(t *testing.T, testLogDir string, suffix string) int {
	i := 0
	err := filepath.Walk(testLogDir, func(fname string, fi os.FileInfo, _ error) error {
		if !fi.IsDir() && strings.HasSuffix(fname, suffix) {
			i++
		}
		return nil
	})
	require.NoError(t, err)
	return i
}

func TestSetUp(t *testing.T) {
	os.RemoveAll(TestLogDirName)
	defer os.RemoveAll(TestLogDirName)

	logRotateArgs := &RotateLogArgs{
		RotateLogMaxSize:    1, // 1MB
		RotateLogMaxBackups: 5,
		RotateLogMaxAge:     0,
		RotateLogLocalTime:  true,
		RotateLogCompress:   true,
	}
	logLevel := logrus.InfoLevel.String()

	err := SetUp(logLevel, true, TestLogDirName, nil)
	assert.NoError(t, err)

	err = SetUp(logLevel, false, TestLogDirName, nil)
	assert.ErrorContains(t, err, "logRotateArgs is needed when logToStdout is false")

	err = SetUp(logLevel, false, TestLogDirName, logRotateArgs)
	require.NoError(t, err)
	for i := 0; i < 100000; i++ { // total 9.1MB
		L().Infof("test log, now: %s", time.Now().Format("2006-01-02 15:04:05"))
	}
	assert.Equal(t, logRotateArgs.RotateLogMaxBackups, getRotateLogFileNumbers(t, TestLogDirName, "log.gz"))
}
