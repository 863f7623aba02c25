// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager holds advisory locks on documents and watches them for
// external modification.
//
// # Description
//
// Acquire takes a non-blocking exclusive lock and starts watching the
// file. The lock is held on a sidecar file in the lock directory, not on
// the document, so it stays valid while the document is replaced by an
// atomic rename. Sidecar files are left in place after release.
//
// Writes, removals and renames seen while a path is watched are reported
// to the registered callbacks. Callers that are about to rewrite a file
// themselves call Unwatch first so their own write is not reported.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks run on the watcher
// goroutine.
type Manager struct {
	logger  *slog.Logger
	locker  FileLocker
	lockDir string

	mu    sync.Mutex
	locks map[string]*os.File

	watcher   *fsnotify.Watcher
	watchMu   sync.Mutex
	watched   map[string]bool
	callbacks []func(ExternalChangeEvent)
}

// NewManager creates a manager and starts its watcher goroutine.
//
// # Inputs
//
//   - logger: Logger for lock and watch events. Nil uses slog.Default().
//
// Sidecar lock files go to DefaultLockDir.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager. Call Close when done.
//   - error: Non-nil if the file watcher cannot be created.
func NewManager(logger *slog.Logger) (*Manager, error) {
	return NewManagerInDir(logger, DefaultLockDir())
}

// NewManagerInDir is NewManager with sidecar lock files kept in dir.
// Processes only exclude each other when they use the same dir.
func NewManagerInDir(logger *slog.Logger, dir string) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	m := &Manager{
		logger:  logger,
		locker:  newPlatformLocker(),
		lockDir: dir,
		locks:   make(map[string]*os.File),
		watcher: watcher,
		watched: make(map[string]bool),
	}
	go m.watchLoop()
	return m, nil
}

// OnExternalChange registers a callback for external modifications.
func (m *Manager) OnExternalChange(cb func(ExternalChangeEvent)) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Acquire locks path and starts watching it. Acquiring a path this
// manager already holds is a no-op.
//
// # Outputs
//
//   - error: *FileLockError wrapping ErrFileLocked when another process
//     holds the lock, or the open error.
func (m *Manager) Acquire(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[abs]; ok {
		return nil
	}

	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("opening file for lock %s: %w", abs, err)
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", m.lockDir, err)
	}
	f, err := os.OpenFile(m.LockPath(abs), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file for %s: %w", abs, err)
	}
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrFileLocked) {
			return &FileLockError{Path: abs, Err: ErrFileLocked}
		}
		return fmt.Errorf("acquiring lock on %s: %w", abs, err)
	}
	m.locks[abs] = f
	m.addWatch(abs)

	m.logger.Debug("acquired document lock", slog.String("path", abs))
	return nil
}

// LockPath returns the sidecar lock file guarding path.
func (m *Manager) LockPath(path string) string {
	abs, _ := filepath.Abs(path)
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(m.lockDir, hex.EncodeToString(sum[:16])+".lock")
}

// DefaultLockDir is the lock directory shared by patcher processes on
// this host.
func DefaultLockDir() string {
	return filepath.Join(os.TempDir(), "aleutian-patcher", "locks")
}

// Held reports whether this manager holds the lock on path.
func (m *Manager) Held(path string) bool {
	abs, _ := filepath.Abs(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[abs]
	return ok
}

// Unwatch stops reporting changes to path. The lock stays held.
func (m *Manager) Unwatch(path string) {
	abs, _ := filepath.Abs(path)
	m.removeWatch(abs)
}

// Release unwatches path and drops its lock.
func (m *Manager) Release(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.locks[abs]
	if !ok {
		return ErrLockNotHeld
	}
	return m.release(abs, f)
}

// release must be called with mu held.
func (m *Manager) release(abs string, f *os.File) error {
	m.removeWatch(abs)
	delete(m.locks, abs)

	err := m.locker.Unlock(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.logger.Warn("failed to release document lock",
			slog.String("path", abs),
			slog.String("error", err.Error()))
		return err
	}
	m.logger.Debug("released document lock", slog.String("path", abs))
	return nil
}

// ReleaseAll drops every lock. It continues past errors and returns the first.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for abs, f := range m.locks {
		if err := m.release(abs, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close releases all locks and stops the watcher.
func (m *Manager) Close() error {
	if err := m.ReleaseAll(); err != nil {
		m.logger.Warn("error releasing locks during close", slog.String("error", err.Error()))
	}
	return m.watcher.Close()
}

func (m *Manager) addWatch(abs string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if err := m.watcher.Add(abs); err != nil {
		m.logger.Warn("failed to watch document",
			slog.String("path", abs),
			slog.String("error", err.Error()))
		return
	}
	m.watched[abs] = true
}

func (m *Manager) removeWatch(abs string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if !m.watched[abs] {
		return
	}
	delete(m.watched, abs)
	if err := m.watcher.Remove(abs); err != nil {
		m.logger.Debug("document was not being watched", slog.String("path", abs))
	}
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	var ct ChangeType
	switch {
	case event.Has(fsnotify.Write):
		ct = ChangeWrite
	case event.Has(fsnotify.Remove):
		ct = ChangeRemove
	case event.Has(fsnotify.Rename):
		ct = ChangeRename
	default:
		return
	}

	abs, _ := filepath.Abs(event.Name)

	m.watchMu.Lock()
	watched := m.watched[abs]
	callbacks := slices.Clone(m.callbacks)
	m.watchMu.Unlock()

	if !watched {
		return
	}

	m.logger.Warn("external modification of open document",
		slog.String("path", abs),
		slog.String("event", ct.String()))

	ev := ExternalChangeEvent{Path: abs, Type: ct}
	for _, cb := range callbacks {
		cb(ev)
	}
}
