// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import "errors"

var (
	// ErrBadMagic is returned when a class container has the wrong header.
	ErrBadMagic = errors.New("not a class container")

	// ErrUnsupportedVersion is returned for container versions this build
	// cannot read.
	ErrUnsupportedVersion = errors.New("unsupported container version")

	// ErrMissingEntry is returned when a required archive entry is absent.
	ErrMissingEntry = errors.New("archive entry missing")

	// ErrUnsafeEntry is returned for entry names that would escape the
	// extraction directory.
	ErrUnsafeEntry = errors.New("unsafe archive entry name")

	// ErrInvalidMode is returned for an unknown decode mode.
	ErrInvalidMode = errors.New("invalid decode mode")
)
