/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/coordinator"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// runCommandLoop reads one command per line from stdin and dispatches it
// to coord. The daemon exposes no RPC surface, so every mode operation
// has to be driven within this one process rather than by separate CLI
// invocations racing a shared coordinator.
func runCommandLoop(coord *coordinator.Coordinator) error {
	logging.L().Info("hitrace-dumpd ready, reading commands from stdin")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		kv := parseKV(fields[1:])

		switch cmd {
		case "open":
			code := coord.Open(splitCSV(kv["tags"]), splitCSV(kv["groups"]), nil)
			printResult(code, nil)
		case "open-args":
			// The rest of the line is a raw argument string such as
			// "tags: sched clockType: boot bufferSize:1024 overwrite: 1".
			params, err := trace.ParseArgs(strings.TrimSpace(strings.TrimPrefix(line, "open-args")))
			if err != nil {
				printResult(nil, err)
				continue
			}
			code := coord.Open(params.Tags, params.TagGroups, params)
			printResult(code, nil)
		case "record-on":
			printResult(coord.RecordOn(), nil)
		case "record-off":
			files, code := coord.RecordOff()
			printResult(fmt.Sprintf("%v files=%v", code, files), nil)
		case "cache-on":
			printResult(coord.CacheOn(), nil)
		case "cache-off":
			printResult(coord.CacheOff(), nil)
		case "dump":
			maxDuration := parseDuration(kv["maxDuration"])
			endTime := parseUnixSeconds(kv["endTime"])
			ret := coord.Dump(maxDuration, endTime)
			printResult(ret, nil)
		case "close":
			printResult(coord.Close(), nil)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	return scanner.Err()
}

func parseKV(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func parseUnixSeconds(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
