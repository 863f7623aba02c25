// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger executes patches in dependency order, each at most once,
// and tears their instances down in reverse order.
package ledger

import (
	"time"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
)

// Status is a patch's visible execution state. Running exists only on the
// scheduler's call stack and is never stored.
type Status int

const (
	StatusNotStarted Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "not_started"
	}
}

// Record is the outcome of one patch execution.
type Record struct {
	Patch    string
	Instance patch.Instance
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Status returns StatusSucceeded or StatusFailed.
func (r *Record) Status() Status {
	if r.Err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}

// Ledger is an insertion-ordered map of execution records.
//
// Thread Safety:
//
//	Ledger is NOT safe for concurrent use. It is owned by one Scheduler.
type Ledger struct {
	records map[string]*Record
	order   []string
}

func newLedger() *Ledger {
	return &Ledger{records: make(map[string]*Record)}
}

// Get returns the record for name.
func (l *Ledger) Get(name string) (*Record, bool) {
	r, ok := l.records[name]
	return r, ok
}

// Status returns the state of name.
func (l *Ledger) Status(name string) Status {
	r, ok := l.records[name]
	if !ok {
		return StatusNotStarted
	}
	return r.Status()
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.order)
}

// add appends a record. Records are never replaced.
func (l *Ledger) add(r *Record) {
	if _, exists := l.records[r.Patch]; exists {
		return
	}
	l.records[r.Patch] = r
	l.order = append(l.order, r.Patch)
}

// Snapshot returns copies of all records in insertion order.
func (l *Ledger) Snapshot() []Record {
	out := make([]Record, len(l.order))
	for i, name := range l.order {
		out[i] = *l.records[name]
	}
	return out
}

// reverse returns records newest first.
func (l *Ledger) reverse() []*Record {
	out := make([]*Record, len(l.order))
	for i, name := range l.order {
		out[len(l.order)-1-i] = l.records[name]
	}
	return out
}
