// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"bytes"
	"strings"
	"time"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// WriteBack records one persisted document.
type WriteBack struct {
	// Path is the document path, or the stream name for sink-backed sessions.
	Path string `json:"path"`

	// Before is the content the writing session read at open.
	Before []byte `json:"before,omitempty"`

	// After is the content written.
	After []byte `json:"after,omitempty"`

	At time.Time `json:"at"`
}

// Changed reports whether the written bytes differ from what was read.
func (w WriteBack) Changed() bool {
	return !bytes.Equal(w.Before, w.After)
}

// Diff returns a line diff of the write-back. Unchanged lines are prefixed
// with two spaces, removed lines with "- " and added lines with "+ ".
func (w WriteBack) Diff() string {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(w.Before), string(w.After))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffpatch.DiffInsert:
			prefix = "+ "
		case diffpatch.DiffDelete:
			prefix = "- "
		default:
			prefix = "  "
		}
		text := strings.TrimSuffix(d.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
