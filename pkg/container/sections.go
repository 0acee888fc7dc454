/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package container

import (
	"os"

	"github.com/pkg/errors"
)

// SectionSource is the slice of the control surface the fixed sections
// read from; pkg/sysfs.Sysfs satisfies it.
type SectionSource interface {
	ReadNode(name string) (string, error)
	ListEventFormatNodes() ([]string, error)
}

// Node names the fixed sections stream from, relative to the tracing root.
const (
	savedCmdlinesNode = "saved_cmdlines"
	savedTgidsNode    = "saved_tgids"
	headerPageNode    = "events/header_page"
	printkFormatsNode = "printk_formats"
)

// EventsFormatMemoName is the on-disk memo the assembled events-format
// payload is saved to after its first assembly; later files in the same
// session read the memo instead of re-walking the events tree.
const EventsFormatMemoName = "saved_events_format"

// kernelVersionFile feeds the base-info section.
const kernelVersionFile = "/proc/version"

// WriteLeadingSections emits the sections that precede the CPU-raw
// payload: base-info (kernel version) and the concatenated ftrace event
// format descriptors. A node that cannot be read contributes an empty
// payload; only a write failure is an error, so a degraded tracefs still
// yields a structurally valid container.
func WriteLeadingSections(w *Writer, src SectionSource, memoPath string) error {
	version, err := os.ReadFile(kernelVersionFile)
	if err != nil {
		version = nil
	}
	if err := w.WriteSection(ContentBaseInfo, version); err != nil {
		return err
	}

	formats := eventsFormatPayload(src, memoPath)
	return w.WriteSection(ContentEventsFormat, formats)
}

// eventsFormatPayload returns the concatenated event format descriptors,
// preferring the memo file when one exists.
func eventsFormatPayload(src SectionSource, memoPath string) []byte {
	if memoPath != "" {
		if memo, err := os.ReadFile(memoPath); err == nil {
			return memo
		}
	}

	nodes, err := src.ListEventFormatNodes()
	if err != nil {
		return nil
	}
	var payload []byte
	for _, node := range nodes {
		content, err := src.ReadNode(node)
		if err != nil {
			continue
		}
		payload = append(payload, content...)
		payload = append(payload, '\n')
	}

	if memoPath != "" && len(payload) > 0 {
		_ = os.WriteFile(memoPath, payload, 0644)
	}
	return payload
}

// WriteTrailingSections emits the sections that follow the CPU-raw
// payload: saved cmdlines, saved tgids, the header-page descriptor and
// printk formats (both skipped on HM kernels), and the kallsyms
// placeholder.
func WriteTrailingSections(w *Writer, src SectionSource, hm bool) error {
	if err := w.WriteSection(ContentCmdlines, readNodeBytes(src, savedCmdlinesNode)); err != nil {
		return err
	}
	if err := w.WriteSection(ContentTgids, readNodeBytes(src, savedTgidsNode)); err != nil {
		return err
	}

	if !hm {
		if err := w.WriteSection(ContentHeaderPage, readNodeBytes(src, headerPageNode)); err != nil {
			return err
		}
		if err := w.WriteSection(ContentPrintkFormats, readNodeBytes(src, printkFormatsNode)); err != nil {
			return err
		}
	}

	if err := w.WriteSection(ContentKallsyms, nil); err != nil {
		return errors.Wrap(err, "write kallsyms placeholder")
	}
	return nil
}

func readNodeBytes(src SectionSource, name string) []byte {
	content, err := src.ReadNode(name)
	if err != nil {
		return nil
	}
	return []byte(content)
}
