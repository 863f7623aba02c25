// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fingerprint locates methods in a class set by their structure
// rather than by name, which obfuscation does not preserve.
package fingerprint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

// ErrFingerprintNotResolved is returned by ResultOrError when no method matched.
var ErrFingerprintNotResolved = errors.New("fingerprint not resolved")

// Wildcard matches any opcode in Fingerprint.Opcodes.
const Wildcard = ""

// Fingerprint describes a method structurally.
//
// Description:
//
//	Every non-zero field narrows the match. Parameters is a prefix list:
//	each entry must be a prefix of the parameter at the same position, and
//	the method must have exactly len(Parameters) parameters unless
//	Parameters is nil. Opcodes must appear as a contiguous run of the
//	method's instruction stream; Wildcard entries match any opcode. Every
//	entry of Strings must appear as a const-string literal.
//
// Example:
//
//	fp := &fingerprint.Fingerprint{
//	    Name:       "signature-check",
//	    ReturnType: "Z",
//	    Parameters: []string{"Landroid/content/Context;"},
//	    Opcodes:    []string{"invoke-virtual", fingerprint.Wildcard, "move-result-object"},
//	    Strings:    []string{"SHA-256"},
//	}
type Fingerprint struct {
	Name        string
	ClassType   string
	ReturnType  string
	AccessFlags classes.AccessFlags
	Parameters  []string
	Opcodes     []string
	Strings     []string
	Custom      func(class *classes.ClassRecord, method *classes.Method) bool

	result *Match
}

// Match is a resolved fingerprint.
type Match struct {
	// Proxy is the class proxy the method lives in.
	Proxy *classes.Proxy

	// MethodIndex is the method's position in the class's method list.
	MethodIndex int

	// PatternStart and PatternEnd bound the matched opcode run
	// [start, end). Both are -1 when the fingerprint has no opcode pattern.
	PatternStart int
	PatternEnd   int

	// StringIndices maps each fingerprint string to the instruction index of
	// its first occurrence.
	StringIndices map[string]int
}

// Class returns the current record of the matched class.
func (m *Match) Class() *classes.ClassRecord {
	return m.Proxy.Current()
}

// Method returns the matched method from the current record.
func (m *Match) Method() *classes.Method {
	return m.Proxy.Current().Methods[m.MethodIndex]
}

// MutableClass resolves the proxy and returns the mutable class copy.
func (m *Match) MutableClass() *classes.ClassRecord {
	return m.Proxy.Mutable()
}

// MutableMethod resolves the proxy and returns the matched method in the
// mutable class copy.
func (m *Match) MutableMethod() *classes.Method {
	return m.Proxy.Mutable().Methods[m.MethodIndex]
}

// Result returns the match from the last Resolve, or nil.
func (f *Fingerprint) Result() *Match {
	return f.result
}

// ResultOrError returns the match from the last Resolve or an error naming
// the fingerprint.
func (f *Fingerprint) ResultOrError() (*Match, error) {
	if f.result == nil {
		return nil, fmt.Errorf("%w: %s", ErrFingerprintNotResolved, f.Name)
	}
	return f.result, nil
}

// matches tests one method. It returns the match details when every
// constraint holds.
func (f *Fingerprint) matches(class *classes.ClassRecord, m *classes.Method) (start, end int, hits map[string]int, ok bool) {
	if f.ReturnType != "" && !strings.HasPrefix(m.ReturnType, f.ReturnType) {
		return 0, 0, nil, false
	}
	if f.AccessFlags != 0 && !m.AccessFlags.Has(f.AccessFlags) {
		return 0, 0, nil, false
	}
	if f.Parameters != nil {
		if len(f.Parameters) != len(m.Parameters) {
			return 0, 0, nil, false
		}
		for i, p := range f.Parameters {
			if !strings.HasPrefix(m.Parameters[i], p) {
				return 0, 0, nil, false
			}
		}
	}

	start, end = -1, -1
	if len(f.Opcodes) > 0 {
		start = findOpcodes(m.Instructions, f.Opcodes)
		if start < 0 {
			return 0, 0, nil, false
		}
		end = start + len(f.Opcodes)
	}

	if len(f.Strings) > 0 {
		hits = make(map[string]int, len(f.Strings))
		for i, ins := range m.Instructions {
			lit, isString := ins.StringLiteral()
			if !isString {
				continue
			}
			for _, want := range f.Strings {
				if _, seen := hits[want]; !seen && lit == want {
					hits[want] = i
				}
			}
		}
		if len(hits) != len(f.Strings) {
			return 0, 0, nil, false
		}
	}

	if f.Custom != nil && !f.Custom(class, m) {
		return 0, 0, nil, false
	}
	return start, end, hits, true
}

// findOpcodes returns the index of the first contiguous run matching pattern.
func findOpcodes(code []classes.Instruction, pattern []string) int {
	for i := 0; i+len(pattern) <= len(code); i++ {
		ok := true
		for j, op := range pattern {
			if op != Wildcard && code[i+j].Opcode != op {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}
