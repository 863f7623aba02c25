// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the patch package.
var (
	// ErrNilPatch is returned when a nil patch is registered.
	ErrNilPatch = errors.New("patch must not be nil")

	// ErrEmptyName is returned when a patch has no name.
	ErrEmptyName = errors.New("patch name must not be empty")

	// ErrDuplicatePatch is returned when registering a name twice.
	ErrDuplicatePatch = errors.New("patch with this name already registered")

	// ErrInvalidKind is returned when a patch declares an unknown kind.
	ErrInvalidKind = errors.New("invalid patch kind")

	// ErrUnknownPatch is returned when selecting a name that was never registered.
	ErrUnknownPatch = errors.New("unknown patch")

	// ErrUnknownDependency is returned when a dependency names no registered patch.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrNotImplemented is returned by BasePatch.New.
	ErrNotImplemented = errors.New("patch does not implement New")

	// ErrViewMismatch is returned when a patch receives a view of the wrong kind.
	ErrViewMismatch = errors.New("view does not match patch kind")
)

// DefinitionError wraps an error with the patch it concerns.
type DefinitionError struct {
	Patch string
	Err   error
}

// Error returns the error message.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("patch %q: %v", e.Patch, e.Err)
}

// Unwrap returns the underlying error.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}
