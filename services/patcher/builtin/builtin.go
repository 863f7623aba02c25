// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builtin is the catalogue of patches shipped with the CLI.
package builtin

import (
	"errors"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
)

// Patch names.
const (
	ManifestDebuggable   = "manifest-debuggable"
	LegacyDebuggable     = "legacy-debuggable"
	AppNameSuffix        = "app-name-suffix"
	SignatureCheckBypass = "signature-check-bypass"
	DisableAnalytics     = "disable-analytics"
)

var (
	// ErrElementNotFound is returned when a document lacks the element a
	// patch edits.
	ErrElementNotFound = errors.New("element not found")
)

// Patches returns fresh instances of every built-in patch. Fingerprints
// carry per-run results, so each run needs its own set.
func Patches() []patch.Patch {
	return []patch.Patch{
		manifestDebuggable(),
		legacyDebuggable(),
		appNameSuffix(),
		signatureCheckBypass(),
		disableAnalytics(),
	}
}

// Register adds every built-in patch to reg.
func Register(reg *patch.Registry) error {
	return reg.Register(Patches()...)
}
