// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resource edits structured XML documents shared by several
// patches within one run.
package resource

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"

	"github.com/AleutianAI/AleutianPatcher/pkg/fsutil"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/lock"
)

// Sink supplies the destination of a stream-backed session. It is called
// only when the session commits, never at open.
type Sink func() (io.WriteCloser, error)

// SessionRegistry tracks open editing sessions per document path.
//
// Description:
//
//	Every path-based Open increments the path's session count and every
//	Close decrements it. Only the Close that takes the count from one to
//	zero writes the document back. Each Open re-reads the file, so a
//	session opened after another one committed sees the committed bytes.
//
//	A registry is run-scoped: it is created empty when a run starts and
//	Reset when the run's teardown completes.
//
// Thread Safety:
//
//	Safe for concurrent use. The count update, the read at open and the
//	write at close happen under one mutex, so no Open can observe a count
//	or file content that a concurrent Close has only partially updated.
type SessionRegistry struct {
	logger *slog.Logger
	locks  *lock.Manager

	mu         sync.Mutex
	counts     map[string]int
	generation uint64
	writeBacks []WriteBack

	external atomic.Int64
}

// NewSessionRegistry creates an empty registry.
//
// Inputs:
//
//	logger - Nil uses slog.Default().
//	locks - Optional lock manager. When set, the first session on a path
//	takes an advisory lock and watches the file; the last closer releases
//	both after writing.
func NewSessionRegistry(logger *slog.Logger, locks *lock.Manager) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SessionRegistry{
		logger: logger,
		locks:  locks,
		counts: make(map[string]int),
	}
	if locks != nil {
		locks.OnExternalChange(func(ev lock.ExternalChangeEvent) {
			r.external.Add(1)
			r.logger.Warn("open document changed outside the editor",
				slog.String("path", ev.Path),
				slog.String("event", ev.Type.String()))
		})
	}
	return r
}

// Open starts a session on the document at path.
//
// Outputs:
//
//	*Editor - The session. The caller must Close it.
//	error - Non-nil if the path cannot be locked, read or parsed. The
//	session count is left unchanged on error.
func (r *SessionRegistry) Open(path string) (*Editor, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving document path %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	first := r.counts[abs] == 0
	r.counts[abs]++

	success := false
	defer func() {
		if success {
			return
		}
		r.decrement(abs)
		if first && r.locks != nil && r.locks.Held(abs) {
			_ = r.locks.Release(abs)
		}
	}()

	if first && r.locks != nil {
		if err := r.locks.Acquire(abs); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", abs, err)
	}
	doc, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", abs, err)
	}

	success = true
	r.logger.Debug("document session opened",
		slog.String("path", abs),
		slog.Int("sessions", r.counts[abs]))
	return &Editor{registry: r, path: abs, generation: r.generation, doc: doc, original: data}, nil
}

// OpenStream starts a session on a document read from src.
//
// Description:
//
//	Stream sessions never touch the session count. If sink is nil the
//	session is read-only. Otherwise sink is called once at Close and the
//	document is written to it; the writer is closed on every exit path.
//
// Inputs:
//
//	name - Label used in logs and write-back records.
//	src - Document source. Fully consumed here.
//	sink - Optional lazy destination.
func (r *SessionRegistry) OpenStream(name string, src io.Reader, sink Sink) (*Editor, error) {
	if src == nil {
		return nil, ErrNilReader
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading document stream %s: %w", name, err)
	}
	doc, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing document stream %s: %w", name, err)
	}
	return &Editor{registry: r, name: name, doc: doc, original: data, sink: sink}, nil
}

// Count returns the number of open sessions on path.
func (r *SessionRegistry) Count(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[abs]
}

// WriteBacks returns the write-backs performed so far, in order.
func (r *SessionRegistry) WriteBacks() []WriteBack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.writeBacks)
}

// ExternalChanges returns how many external modifications were observed
// on documents while they were open.
func (r *SessionRegistry) ExternalChanges() int64 {
	return r.external.Load()
}

// Reset clears all session state at the end of a run.
//
// Description:
//
//	Sessions still open are logged and forgotten without writing; their
//	locks are released. Closing one of them later writes nothing and does
//	not touch sessions opened after the Reset. Recorded write-backs are
//	kept for reporting.
func (r *SessionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, n := range r.counts {
		r.logger.Warn("document session leaked past teardown",
			slog.String("path", path),
			slog.Int("sessions", n))
		if r.locks != nil && r.locks.Held(path) {
			_ = r.locks.Release(path)
		}
	}
	clear(r.counts)
	r.generation++
}

// close ends a path session. Must not be called with mu held.
func (r *SessionRegistry) close(e *Editor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.generation != r.generation {
		r.logger.Warn("closing document session after reset, not writing",
			slog.String("path", e.path))
		return nil
	}

	n := r.counts[e.path]
	if n > 1 {
		r.counts[e.path] = n - 1
		r.logger.Debug("document session closed, write deferred to last closer",
			slog.String("path", e.path),
			slog.Int("sessions", n-1))
		return nil
	}
	if n == 0 {
		r.logger.Warn("closing untracked document session, not writing",
			slog.String("path", e.path))
		return nil
	}
	delete(r.counts, e.path)

	if r.locks != nil {
		r.locks.Unwatch(e.path)
		defer func() {
			if err := r.locks.Release(e.path); err != nil {
				r.logger.Warn("failed to release document lock",
					slog.String("path", e.path),
					slog.String("error", err.Error()))
			}
		}()
	}

	out, err := e.doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("serializing document %s: %w", e.path, err)
	}
	if err := fsutil.WriteFileAtomic(e.path, out, 0o644); err != nil {
		return err
	}
	r.record(e.path, e.original, out)
	return nil
}

// commitStream writes a stream session to its sink.
func (r *SessionRegistry) commitStream(e *Editor) (err error) {
	out, err := e.doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("serializing document stream %s: %w", e.name, err)
	}
	w, err := e.sink()
	if err != nil {
		return fmt.Errorf("opening sink for %s: %w", e.name, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing sink for %s: %w", e.name, cerr)
		}
	}()
	if _, err := io.Copy(w, bytes.NewReader(out)); err != nil {
		return fmt.Errorf("writing document stream %s: %w", e.name, err)
	}

	r.mu.Lock()
	r.record(e.name, e.original, out)
	r.mu.Unlock()
	return nil
}

// record must be called with mu held.
func (r *SessionRegistry) record(path string, before, after []byte) {
	r.writeBacks = append(r.writeBacks, WriteBack{
		Path:   path,
		Before: before,
		After:  after,
		At:     time.Now(),
	})
	r.logger.Info("document written",
		slog.String("path", path),
		slog.Int("bytes", len(after)))
}

// decrement must be called with mu held.
func (r *SessionRegistry) decrement(path string) {
	if r.counts[path] <= 1 {
		delete(r.counts, path)
		return
	}
	r.counts[path]--
}

func parse(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, ErrNoRoot
	}
	return doc, nil
}
