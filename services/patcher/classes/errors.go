// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classes

import (
	"errors"
	"fmt"
)

// Sentinel errors for the classes package.
var (
	// ErrNilRecord is returned when a nil class record is provided.
	ErrNilRecord = errors.New("class record must not be nil")

	// ErrClassNotFound is returned when a class type is not present in the set.
	ErrClassNotFound = errors.New("class not found")

	// ErrDuplicateClass is returned when adding a class whose type already exists.
	ErrDuplicateClass = errors.New("class with this type already exists")

	// ErrProxyResolved is returned when replacing a class that already has a
	// materialized mutable copy.
	ErrProxyResolved = errors.New("class proxy already resolved")

	// ErrIndexOutOfRange is returned for list or instruction indices outside bounds.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidInstruction is returned when instruction text cannot be parsed.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrInvalidReference is returned when a method reference cannot be parsed.
	ErrInvalidReference = errors.New("invalid method reference")
)

// ClassError wraps an error with the class type that caused it.
type ClassError struct {
	Type string
	Err  error
}

// Error returns the error message.
func (e *ClassError) Error() string {
	return fmt.Sprintf("class %q: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassError) Unwrap() error {
	return e.Err
}
