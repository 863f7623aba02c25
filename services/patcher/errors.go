// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patcher

import "errors"

var (
	// ErrClosed is returned by operations on a closed Patcher.
	ErrClosed = errors.New("patcher closed")

	// ErrAlreadyExecuted is returned when Execute is called twice.
	ErrAlreadyExecuted = errors.New("patches already executed")

	// ErrNotExecuted is returned by Save before Execute has finished.
	ErrNotExecuted = errors.New("patches not executed")

	// ErrEmptyPath is returned when an input or output path is empty.
	ErrEmptyPath = errors.New("path must not be empty")
)
