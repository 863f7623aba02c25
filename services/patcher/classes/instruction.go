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
	"fmt"
	"slices"
	"strings"
)

// Instruction is one bytecode instruction in assembler form.
type Instruction struct {
	Opcode   string   `cbor:"op"`
	Operands []string `cbor:"args,omitempty"`
}

// String returns the assembler text, e.g. `const-string v0, "hello"`.
func (i Instruction) String() string {
	if len(i.Operands) == 0 {
		return i.Opcode
	}
	return i.Opcode + " " + strings.Join(i.Operands, ", ")
}

// IsInvoke reports whether the instruction calls a method.
func (i Instruction) IsInvoke() bool {
	return strings.HasPrefix(i.Opcode, "invoke-")
}

// MethodReference returns the parsed method reference of an invoke instruction.
func (i Instruction) MethodReference() (MethodRef, bool) {
	if !i.IsInvoke() || len(i.Operands) == 0 {
		return MethodRef{}, false
	}
	ref, err := ParseMethodRef(i.Operands[len(i.Operands)-1])
	if err != nil {
		return MethodRef{}, false
	}
	return ref, true
}

// StringLiteral returns the unquoted literal of a const-string instruction.
func (i Instruction) StringLiteral() (string, bool) {
	if !strings.HasPrefix(i.Opcode, "const-string") || len(i.Operands) < 2 {
		return "", false
	}
	lit := i.Operands[len(i.Operands)-1]
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", false
	}
	return lit[1 : len(lit)-1], true
}

func (i Instruction) clone() Instruction {
	return Instruction{Opcode: i.Opcode, Operands: slices.Clone(i.Operands)}
}

// ParseInstructions parses assembler text, one instruction per line.
//
// Description:
//
//	Blank lines and lines starting with '#' are skipped. Operands are
//	separated by commas; commas inside double-quoted literals are kept.
//
// Example:
//
//	ins, err := classes.ParseInstructions(`
//	    const/4 v0, 0x1
//	    return v0
//	`)
func ParseInstructions(text string) ([]Instruction, error) {
	var out []Instruction
	for n, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ins, err := parseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, ins)
	}
	return out, nil
}

func parseInstruction(line string) (Instruction, error) {
	opcode, rest, _ := strings.Cut(line, " ")
	if opcode == "" {
		return Instruction{}, fmt.Errorf("%w: %q", ErrInvalidInstruction, line)
	}
	ins := Instruction{Opcode: opcode}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return ins, nil
	}

	var (
		cur     strings.Builder
		inQuote bool
		escaped bool
	)
	for _, r := range rest {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			ins.Operands = append(ins.Operands, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if inQuote {
		return Instruction{}, fmt.Errorf("%w: unterminated string in %q", ErrInvalidInstruction, line)
	}
	ins.Operands = append(ins.Operands, strings.TrimSpace(cur.String()))
	return ins, nil
}

// AddInstructions inserts instructions before index. index == len appends.
func (m *Method) AddInstructions(index int, ins ...Instruction) error {
	if index < 0 || index > len(m.Instructions) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(m.Instructions))
	}
	m.Instructions = slices.Insert(m.Instructions, index, ins...)
	return nil
}

// ReplaceInstruction overwrites the instruction at index.
func (m *Method) ReplaceInstruction(index int, ins Instruction) error {
	if index < 0 || index >= len(m.Instructions) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(m.Instructions))
	}
	m.Instructions[index] = ins
	return nil
}

// RemoveInstructions deletes count instructions starting at index.
func (m *Method) RemoveInstructions(index, count int) error {
	if index < 0 || count < 0 || index+count > len(m.Instructions) {
		return fmt.Errorf("%w: [%d:%d] (len %d)", ErrIndexOutOfRange, index, index+count, len(m.Instructions))
	}
	m.Instructions = slices.Delete(m.Instructions, index, index+count)
	return nil
}

// ReplaceBody swaps the whole instruction stream.
func (m *Method) ReplaceBody(ins []Instruction) {
	m.Instructions = slices.Clone(ins)
}

// MethodRef is a parsed method reference such as
// "Lcom/app/Util;->check(Ljava/lang/String;I)Z".
type MethodRef struct {
	DefiningClass string
	Name          string
	Parameters    []string
	ReturnType    string
}

// Signature returns the name and descriptor part of the reference.
func (r MethodRef) Signature() string {
	return r.Name + "(" + strings.Join(r.Parameters, "") + ")" + r.ReturnType
}

// ParseMethodRef parses a fully qualified method reference.
func ParseMethodRef(s string) (MethodRef, error) {
	class, rest, ok := strings.Cut(s, "->")
	if !ok || class == "" {
		return MethodRef{}, fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	open := strings.IndexByte(rest, '(')
	closing := strings.IndexByte(rest, ')')
	if open <= 0 || closing < open || closing == len(rest)-1 {
		return MethodRef{}, fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	params, err := splitDescriptors(rest[open+1 : closing])
	if err != nil {
		return MethodRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
	}
	return MethodRef{
		DefiningClass: class,
		Name:          rest[:open],
		Parameters:    params,
		ReturnType:    rest[closing+1:],
	}, nil
}

// splitDescriptors splits a concatenated parameter descriptor list,
// e.g. "ILjava/lang/String;[J" -> ["I", "Ljava/lang/String;", "[J"].
func splitDescriptors(s string) ([]string, error) {
	var out []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("dangling array marker")
		}
		if s[i] == 'L' {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("unterminated object type")
			}
			i += end + 1
		} else {
			i++
		}
		out = append(out, s[start:i])
	}
	return out, nil
}
