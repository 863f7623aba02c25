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
	"strings"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

// Compatibility names a package a patch applies to.
//
// Versions entries are either an exact version ("18.19.35") or a
// comparison (">=18.0", "<19"). Entries are OR-ed; an empty list accepts
// every version. Versions that are not semantic versions only match
// exact entries.
type Compatibility struct {
	Package  string   `json:"package" yaml:"package"`
	Versions []string `json:"versions,omitempty" yaml:"versions,omitempty"`
}

// Matches reports whether info satisfies c.
func (c Compatibility) Matches(info pkgctx.PackageInfo) bool {
	if c.Package != info.Name {
		return false
	}
	if len(c.Versions) == 0 {
		return true
	}
	for _, v := range c.Versions {
		if versionMatches(v, info.VersionName) {
			return true
		}
	}
	return false
}

// Compatible reports whether p applies to the package described by info.
func Compatible(p Patch, info pkgctx.PackageInfo) bool {
	compat := p.Compatibility()
	if len(compat) == 0 {
		return true
	}
	for _, c := range compat {
		if c.Matches(info) {
			return true
		}
	}
	return false
}

var operators = []string{">=", "<=", ">", "<", "="}

func versionMatches(constraint, version string) bool {
	op := "="
	for _, o := range operators {
		if strings.HasPrefix(constraint, o) {
			op = o
			constraint = strings.TrimSpace(strings.TrimPrefix(constraint, o))
			break
		}
	}

	want, have := canonical(constraint), canonical(version)
	if want == "" || have == "" {
		return op == "=" && constraint == version
	}

	cmp := semver.Compare(have, want)
	switch op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	default:
		return cmp == 0
	}
}

// canonical returns the canonical semver form of v, or "" if v is not a
// semantic version.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}
