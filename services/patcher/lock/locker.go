// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock guards resource documents that are open for editing:
// an advisory exclusive lock keeps other patcher processes out, and a
// file watcher reports writes made behind the editor's back.
package lock

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrFileLocked is returned when another process holds the lock.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockNotHeld is returned when releasing a path this manager never locked.
	ErrLockNotHeld = errors.New("lock not held")
)

// FileLockError carries the path of a failed lock attempt.
type FileLockError struct {
	Path string
	Err  error
}

func (e *FileLockError) Error() string {
	return fmt.Sprintf("lock %s: %v", e.Path, e.Err)
}

func (e *FileLockError) Unwrap() error {
	return e.Err
}

// FileLocker abstracts platform-specific advisory locking.
//
// Lock must not block: it returns ErrFileLocked immediately when the lock
// is held elsewhere. Unlock is safe on an unlocked file.
type FileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// ChangeType classifies an external modification.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeRemove
	ChangeRename
)

func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeRemove:
		return "remove"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ExternalChangeEvent describes a modification to a watched file that did
// not come from this process's editor.
type ExternalChangeEvent struct {
	Path string
	Type ChangeType
}
