// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the ledger package. Every typed error below matches
// exactly one of them via errors.Is.
var (
	// ErrDependencyFailed matches *DependencyFailedError.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrPatchRaised matches *PatchError.
	ErrPatchRaised = errors.New("patch failed")

	// ErrPatchCrashed matches *PatchCrashedError.
	ErrPatchCrashed = errors.New("patch crashed")

	// ErrAlreadyFailed matches *AlreadyFailedError.
	ErrAlreadyFailed = errors.New("patch already failed")

	// ErrCycleDetected matches *CycleError.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrUnknownPatch is returned when a dependency names no known patch.
	ErrUnknownPatch = errors.New("unknown patch")

	// ErrInvalidInput is returned when scheduler configuration is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyRun is yielded when Run is called a second time.
	ErrAlreadyRun = errors.New("scheduler has already run")
)

// DependencyFailedError reports that a patch was not executed because one
// of its dependencies did not succeed.
type DependencyFailedError struct {
	Patch      string
	Dependency string
	Err        error
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("patch %q: dependency %q failed: %v", e.Patch, e.Dependency, e.Err)
}

func (e *DependencyFailedError) Unwrap() error        { return e.Err }
func (e *DependencyFailedError) Is(target error) bool { return target == ErrDependencyFailed }

// PatchError reports that a patch's Execute, or its instantiation,
// returned an error.
type PatchError struct {
	Patch string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %q: %v", e.Patch, e.Err)
}

func (e *PatchError) Unwrap() error        { return e.Err }
func (e *PatchError) Is(target error) bool { return target == ErrPatchRaised }

// PatchCrashedError reports that a patch panicked. Value is the recovered
// value; if it was an error it is also available through Unwrap.
type PatchCrashedError struct {
	Patch string
	Value any
	Stack []byte
}

func (e *PatchCrashedError) Error() string {
	return fmt.Sprintf("patch %q crashed: %v", e.Patch, e.Value)
}

func (e *PatchCrashedError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (e *PatchCrashedError) Is(target error) bool { return target == ErrPatchCrashed }

// AlreadyFailedError is returned when a patch whose earlier run failed is
// referenced again. Dependent is empty for a top-level reference.
type AlreadyFailedError struct {
	Patch     string
	Dependent string
	Err       error
}

func (e *AlreadyFailedError) Error() string {
	if e.Dependent == "" {
		return fmt.Sprintf("patch %q already failed: %v", e.Patch, e.Err)
	}
	return fmt.Sprintf("patch %q (required by %q) already failed: %v", e.Patch, e.Dependent, e.Err)
}

func (e *AlreadyFailedError) Unwrap() error        { return e.Err }
func (e *AlreadyFailedError) Is(target error) bool { return target == ErrAlreadyFailed }

// CycleError reports a dependency cycle. Path starts and ends with the
// same patch.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }
