// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classes holds the working set of compiled classes and the
// copy-on-write proxies patches use to mutate them.
package classes

import (
	"errors"
	"fmt"
	"iter"
)

// ClassSet is an ordered, mutable list of class records plus the proxies
// handed out for them.
//
// Description:
//
//	Iterating a ClassSet yields, for every class, either the original record
//	or the mutable copy of its resolved proxy, never both. Finalize folds
//	resolved proxies back into the list.
//
// Thread Safety:
//
//	ClassSet is NOT safe for concurrent use. Patches are executed
//	sequentially by the scheduler and that is the only supported caller.
type ClassSet struct {
	classes []*ClassRecord
	index   map[string]int

	// proxies holds outstanding proxies keyed by class type; order records
	// the creation order used by Finalize.
	proxies map[string]*Proxy
	order   []string
}

// NewClassSet creates a set from records. Records are used as-is, not copied.
//
// Outputs:
//
//	*ClassSet - The set.
//	error - Non-nil if a record is nil or two records share a type.
func NewClassSet(records []*ClassRecord) (*ClassSet, error) {
	s := &ClassSet{
		classes: make([]*ClassRecord, 0, len(records)),
		index:   make(map[string]int, len(records)),
		proxies: make(map[string]*Proxy),
	}
	for _, r := range records {
		if err := s.Add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the number of classes in the set.
func (s *ClassSet) Len() int {
	return len(s.classes)
}

// Add appends a new class to the set.
//
// Description:
//
//	Add is the only way to introduce a class; Proxy never creates one.
func (s *ClassSet) Add(record *ClassRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	if _, ok := s.index[record.Type]; ok {
		return &ClassError{Type: record.Type, Err: ErrDuplicateClass}
	}
	s.index[record.Type] = len(s.classes)
	s.classes = append(s.classes, record)
	return nil
}

// Replace swaps the record at index for another one.
//
// Description:
//
//	If a proxy is outstanding for the class at index and it has already
//	handed out a mutable copy, Replace fails with ErrProxyResolved since the
//	pending mutation would otherwise be silently dropped or misapplied. An
//	unresolved proxy is rebound to the replacement record.
//
// Inputs:
//
//	index - Position in the backing list.
//	record - The replacement. Must not be nil.
//
// Outputs:
//
//	error - ErrIndexOutOfRange, ErrNilRecord, ErrProxyResolved or
//	ErrDuplicateClass (wrapped in *ClassError where a type is known).
func (s *ClassSet) Replace(index int, record *ClassRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	if index < 0 || index >= len(s.classes) {
		return fmt.Errorf("replace class: %w: %d (len %d)", ErrIndexOutOfRange, index, len(s.classes))
	}
	old := s.classes[index]
	if other, ok := s.index[record.Type]; ok && other != index {
		return &ClassError{Type: record.Type, Err: ErrDuplicateClass}
	}

	p, tracked := s.proxies[old.Type]
	if tracked && p.Resolved() {
		return &ClassError{Type: old.Type, Err: ErrProxyResolved}
	}

	s.classes[index] = record
	if old.Type != record.Type {
		delete(s.index, old.Type)
		s.index[record.Type] = index
	}
	if tracked {
		p.immutable = record
		if old.Type != record.Type {
			delete(s.proxies, old.Type)
			s.proxies[record.Type] = p
			for i, t := range s.order {
				if t == old.Type {
					s.order[i] = record.Type
				}
			}
		}
	}
	return nil
}

// current returns the record iteration should yield for position i.
func (s *ClassSet) current(i int) *ClassRecord {
	r := s.classes[i]
	if p, ok := s.proxies[r.Type]; ok && p.immutable == r {
		return p.Current()
	}
	return r
}

// All yields the current record of every class in list order.
func (s *ClassSet) All() iter.Seq[*ClassRecord] {
	return func(yield func(*ClassRecord) bool) {
		for i := range s.classes {
			if !yield(s.current(i)) {
				return
			}
		}
	}
}

// Records returns a snapshot of the current records.
func (s *ClassSet) Records() []*ClassRecord {
	out := make([]*ClassRecord, 0, len(s.classes))
	for r := range s.All() {
		out = append(out, r)
	}
	return out
}

// Lookup returns the current record for a class type.
func (s *ClassSet) Lookup(classType string) (*ClassRecord, bool) {
	i, ok := s.index[classType]
	if !ok {
		return nil, false
	}
	return s.current(i), true
}

// Find returns the proxy for the first class whose current record matches pred.
func (s *ClassSet) Find(pred func(*ClassRecord) bool) (*Proxy, bool) {
	for i := range s.classes {
		r := s.current(i)
		if pred(r) {
			return s.obtain(s.classes[i]), true
		}
	}
	return nil, false
}

// FindByType returns the proxy for the class with the given type.
func (s *ClassSet) FindByType(classType string) (*Proxy, bool) {
	i, ok := s.index[classType]
	if !ok {
		return nil, false
	}
	return s.obtain(s.classes[i]), true
}

// Proxy returns the proxy for record's class, creating it if needed.
//
// Description:
//
//	Lookup is keyed by class type, not by pointer identity: asking twice for
//	the same type returns the same *Proxy even when different record values
//	are passed. A new proxy is bound to the set's own record for that type.
//
// Outputs:
//
//	*Proxy - The unique proxy for the class.
//	error - *ClassError wrapping ErrClassNotFound if the type is not in the
//	set, or ErrNilRecord.
func (s *ClassSet) Proxy(record *ClassRecord) (*Proxy, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	i, ok := s.index[record.Type]
	if !ok {
		return nil, &ClassError{Type: record.Type, Err: ErrClassNotFound}
	}
	return s.obtain(s.classes[i]), nil
}

func (s *ClassSet) obtain(record *ClassRecord) *Proxy {
	if p, ok := s.proxies[record.Type]; ok {
		return p
	}
	p := &Proxy{immutable: record}
	s.proxies[record.Type] = p
	s.order = append(s.order, record.Type)
	return p
}

// Pending returns the outstanding proxies in creation order.
func (s *ClassSet) Pending() []*Proxy {
	out := make([]*Proxy, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.proxies[t])
	}
	return out
}

// Finalize applies every resolved proxy to the backing list.
//
// Description:
//
//	Each resolved proxy's mutable copy replaces the original record at the
//	same position and the proxy stops being tracked. Unresolved proxies are
//	left alone and remain obtainable, so Finalize may run more than once.
//	A copy renamed onto a type another class holds after this call is not
//	applied; its proxy stays pending and the collision is reported.
//
// Outputs:
//
//	int - Number of proxies applied by this call.
//	error - *ClassError wrapping ErrDuplicateClass for each rejected copy,
//	joined. The other proxies are applied regardless.
func (s *ClassSet) Finalize() (int, error) {
	apply := make(map[string]bool, len(s.order))
	for _, t := range s.order {
		if s.proxies[t].Resolved() {
			apply[t] = true
		}
	}

	var errs []error
	for {
		rejected := s.retypeCollisions(apply)
		if len(rejected) == 0 {
			break
		}
		for _, t := range rejected {
			delete(apply, t)
			errs = append(errs, &ClassError{Type: s.proxies[t].mutable.Type, Err: ErrDuplicateClass})
		}
	}

	applied := 0
	retyped := false
	kept := s.order[:0]
	for _, t := range s.order {
		if !apply[t] {
			kept = append(kept, t)
			continue
		}
		p := s.proxies[t]
		s.classes[s.index[t]] = p.mutable
		if p.mutable.Type != t {
			retyped = true
		}
		delete(s.proxies, t)
		applied++
	}
	s.order = kept
	if retyped {
		s.reindex()
	}
	return applied, errors.Join(errs...)
}

// retypeCollisions returns the proxies in apply whose copy takes a type
// that would be held by more than one class once apply is finalized.
func (s *ClassSet) retypeCollisions(apply map[string]bool) []string {
	holders := make(map[string]int, len(s.classes))
	for _, r := range s.classes {
		typ := r.Type
		if apply[typ] {
			typ = s.proxies[typ].mutable.Type
		}
		holders[typ]++
	}
	var out []string
	for _, t := range s.order {
		if !apply[t] {
			continue
		}
		if typ := s.proxies[t].mutable.Type; typ != t && holders[typ] > 1 {
			out = append(out, t)
		}
	}
	return out
}

func (s *ClassSet) reindex() {
	clear(s.index)
	for i, r := range s.classes {
		s.index[r.Type] = i
	}
}
