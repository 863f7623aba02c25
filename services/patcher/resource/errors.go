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

import "errors"

var (
	// ErrEmptyPath is returned when Open is called with an empty path.
	ErrEmptyPath = errors.New("document path must not be empty")

	// ErrNilReader is returned when OpenStream is called without a source.
	ErrNilReader = errors.New("document source must not be nil")

	// ErrNoRoot is returned when a document has no root element.
	ErrNoRoot = errors.New("document has no root element")
)
