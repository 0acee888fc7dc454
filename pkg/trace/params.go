/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Params is the immutable-after-open configuration record for a trace
// session.
type Params struct {
	Tags          []string
	TagGroups     []string
	Pids          []int
	BufferSizeKB  int
	ClockType     string
	Overwrite     bool
	OutputPath    string
	FileSizeCapKB int
	FileCountCap  int
	AppPid        int
}

const DefaultClockType = "boot"

// NewParams returns a Params with the clock type defaulted to "boot".
func NewParams() *Params {
	return &Params{ClockType: DefaultClockType, Overwrite: true}
}

var knownArgKeys = []string{
	"tagGroups", "tags", "clockType", "bufferSize", "overwrite",
	"output", "fileSize", "fileLimit", "appPid",
}

// keyPattern matches any recognized key followed by a colon, tolerating
// whitespace on either side of the colon.
var keyPattern = regexp.MustCompile(`(` + strings.Join(knownArgKeys, "|") + `)\s*:\s*`)

// ParseArgs parses the CMD_MODE argument string, e.g.
// "tags:sched clockType:boot bufferSize:1024 overwrite:1", with or
// without a space after each colon. Because values themselves may
// contain embedded spaces ("tags: sched, user"), the string cannot be
// split on whitespace first; instead each recognized "key:" token anchors
// the start of its value, which runs up to the next recognized key.
func ParseArgs(args string) (*Params, error) {
	p := NewParams()

	matches := keyPattern.FindAllStringSubmatchIndex(args, -1)
	if len(matches) == 0 && strings.TrimSpace(args) != "" {
		return nil, errors.Errorf("no recognized key:value pairs in %q", args)
	}

	for i, m := range matches {
		keyStart, keyEnd := m[2], m[3]
		valueStart := m[1]
		valueEnd := len(args)
		if i+1 < len(matches) {
			valueEnd = matches[i+1][0]
		}

		key := args[keyStart:keyEnd]
		value := strings.TrimSpace(args[valueStart:valueEnd])

		if err := p.setField(key, value); err != nil {
			return nil, err
		}
	}

	if p.ClockType == "" {
		p.ClockType = DefaultClockType
	}

	return p, nil
}

func (p *Params) setField(key, value string) error {
	switch key {
	case "tags":
		p.Tags = splitCommaList(value)
	case "tagGroups":
		p.TagGroups = splitCommaList(value)
	case "clockType":
		p.ClockType = value
	case "bufferSize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid bufferSize %q", value)
		}
		p.BufferSizeKB = n
	case "overwrite":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid overwrite %q", value)
		}
		p.Overwrite = n != 0
	case "output":
		p.OutputPath = value
	case "fileSize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid fileSize %q", value)
		}
		p.FileSizeCapKB = n
	case "fileLimit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid fileLimit %q", value)
		}
		p.FileCountCap = n
	case "appPid":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid appPid %q", value)
		}
		p.AppPid = n
	default:
		return errors.Errorf("unknown trace argument %q", key)
	}
	return nil
}

func splitCommaList(value string) []string {
	fields := strings.Fields(strings.ReplaceAll(value, ",", " "))
	return fields
}
