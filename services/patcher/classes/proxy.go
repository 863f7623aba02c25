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

// Proxy is a copy-on-write handle for one class in a ClassSet.
//
// Description:
//
//	A Proxy wraps the immutable record it was created for. The first call
//	to Mutable materializes a deep copy and marks the proxy resolved; later
//	calls return the same copy. Readers that never call Mutable never pay
//	for the copy.
//
// Thread Safety:
//
//	Proxy is NOT safe for concurrent use. Patches run sequentially.
type Proxy struct {
	immutable *ClassRecord
	mutable   *ClassRecord
}

// Type returns the class type this proxy is keyed by.
func (p *Proxy) Type() string {
	return p.immutable.Type
}

// Immutable returns the original record. Callers must not modify it.
func (p *Proxy) Immutable() *ClassRecord {
	return p.immutable
}

// Resolved reports whether a mutable copy has been handed out.
func (p *Proxy) Resolved() bool {
	return p.mutable != nil
}

// Mutable returns the mutable copy, creating it on first use.
func (p *Proxy) Mutable() *ClassRecord {
	if p.mutable == nil {
		p.mutable = p.immutable.Clone()
	}
	return p.mutable
}

// Current returns the mutable copy if resolved, otherwise the original.
func (p *Proxy) Current() *ClassRecord {
	if p.mutable != nil {
		return p.mutable
	}
	return p.immutable
}
