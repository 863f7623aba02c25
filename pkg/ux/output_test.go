// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.True(t, p.Plain())
	assert.False(t, IsTerminal(&buf))
}

func TestPlainPrinter_Lines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("fyi")
	p.Box("Package", "com.example")

	assert.Equal(t, "OK: done\nWARN: careful\nERROR: broken\nfyi\nPackage: com.example\n", buf.String())
}

func TestPlainPrinter_PatchResultAndSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.PatchResult("a", nil, 1500*time.Microsecond)
	p.PatchResult("b", errors.New("boom"), 0)
	p.Summary(1, 1, 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "ok\ta\t2ms\t", lines[0])
	assert.Equal(t, "failed\tb\t0s\tboom", lines[1])
	assert.Equal(t, "SUMMARY: succeeded=1 failed=1 skipped=2", lines[2])
}

func TestPlainPrinter_DiffAndTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Diff("manifest.xml", "  <a>\n- <b/>\n+ <c/>")
	p.Table([]string{"NAME", "KIND"}, [][]string{{"x", "bytecode"}})

	assert.Equal(t, "--- manifest.xml\n  <a>\n- <b/>\n+ <c/>\nNAME\tKIND\nx\tbytecode\n", buf.String())
}

func TestStyledPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf}

	p.Success("done")
	p.Table([]string{"NAME", "KIND"}, [][]string{{"longer-name", "resource"}})
	p.Diff("doc", "+ added\n- removed\n  same\n")

	out := buf.String()
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "longer-name")
	assert.Contains(t, out, "+ added")
	assert.Contains(t, out, "- removed")
}

func TestIcon_Render(t *testing.T) {
	assert.Contains(t, IconSuccess.Render(), string(IconSuccess))
	assert.Equal(t, string(IconArrow), IconArrow.Render())
}
