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
	"slices"
	"strings"
)

// AccessFlags is the access modifier bit set of a class or class member.
type AccessFlags uint32

const (
	AccessPublic       AccessFlags = 0x1
	AccessPrivate      AccessFlags = 0x2
	AccessProtected    AccessFlags = 0x4
	AccessStatic       AccessFlags = 0x8
	AccessFinal        AccessFlags = 0x10
	AccessSynchronized AccessFlags = 0x20
	AccessNative       AccessFlags = 0x100
	AccessInterface    AccessFlags = 0x200
	AccessAbstract     AccessFlags = 0x400
	AccessConstructor  AccessFlags = 0x10000
)

// Has reports whether every bit of mask is set.
func (f AccessFlags) Has(mask AccessFlags) bool {
	return f&mask == mask
}

// Field is a field declared by a class.
type Field struct {
	Name         string      `cbor:"name"`
	Type         string      `cbor:"type"`
	AccessFlags  AccessFlags `cbor:"access"`
	InitialValue string      `cbor:"init,omitempty"`
}

// Method is a method declared by a class, including its instruction stream.
type Method struct {
	DefiningClass string        `cbor:"class"`
	Name          string        `cbor:"name"`
	Parameters    []string      `cbor:"params,omitempty"`
	ReturnType    string        `cbor:"ret"`
	AccessFlags   AccessFlags   `cbor:"access"`
	Registers     int           `cbor:"regs"`
	Instructions  []Instruction `cbor:"code,omitempty"`
}

// Signature returns the method's name and descriptor, e.g. "check(Ljava/lang/String;)Z".
func (m *Method) Signature() string {
	return m.Name + "(" + strings.Join(m.Parameters, "") + ")" + m.ReturnType
}

// Reference returns the fully qualified reference used by invoke instructions.
func (m *Method) Reference() string {
	return m.DefiningClass + "->" + m.Signature()
}

func (m *Method) clone() *Method {
	c := *m
	c.Parameters = slices.Clone(m.Parameters)
	c.Instructions = make([]Instruction, len(m.Instructions))
	for i, ins := range m.Instructions {
		c.Instructions[i] = ins.clone()
	}
	return &c
}

// ClassRecord is one compiled class definition.
//
// Description:
//
//	Records handed out by a ClassSet are treated as immutable value data.
//	Mutation goes through a Proxy, which works on a deep copy obtained
//	from Clone.
type ClassRecord struct {
	Type        string      `cbor:"type"`
	SuperType   string      `cbor:"super,omitempty"`
	Interfaces  []string    `cbor:"ifaces,omitempty"`
	AccessFlags AccessFlags `cbor:"access"`
	SourceFile  string      `cbor:"source,omitempty"`
	Fields      []*Field    `cbor:"fields,omitempty"`
	Methods     []*Method   `cbor:"methods,omitempty"`
}

// Clone returns a deep structural copy of the record.
func (c *ClassRecord) Clone() *ClassRecord {
	out := &ClassRecord{
		Type:        c.Type,
		SuperType:   c.SuperType,
		Interfaces:  slices.Clone(c.Interfaces),
		AccessFlags: c.AccessFlags,
		SourceFile:  c.SourceFile,
	}
	if c.Fields != nil {
		out.Fields = make([]*Field, len(c.Fields))
		for i, f := range c.Fields {
			cp := *f
			out.Fields[i] = &cp
		}
	}
	if c.Methods != nil {
		out.Methods = make([]*Method, len(c.Methods))
		for i, m := range c.Methods {
			out.Methods[i] = m.clone()
		}
	}
	return out
}

// Field returns the field with the given name, or nil.
func (c *ClassRecord) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the first method with the given name and its index, or (nil, -1).
func (c *ClassRecord) Method(name string) (*Method, int) {
	for i, m := range c.Methods {
		if m.Name == name {
			return m, i
		}
	}
	return nil, -1
}

// MethodBySignature returns the method whose Signature equals sig, or (nil, -1).
func (c *ClassRecord) MethodBySignature(sig string) (*Method, int) {
	for i, m := range c.Methods {
		if m.Signature() == sig {
			return m, i
		}
	}
	return nil, -1
}

// RenameField renames a field and rewrites same-class field references in
// this class's instructions. Returns false if no such field exists.
func (c *ClassRecord) RenameField(from, to string) bool {
	f := c.Field(from)
	if f == nil {
		return false
	}
	f.Name = to

	oldRef := c.Type + "->" + from + ":"
	newRef := c.Type + "->" + to + ":"
	for _, m := range c.Methods {
		for i := range m.Instructions {
			for j, op := range m.Instructions[i].Operands {
				if strings.HasPrefix(op, oldRef) {
					m.Instructions[i].Operands[j] = newRef + strings.TrimPrefix(op, oldRef)
				}
			}
		}
	}
	return true
}
