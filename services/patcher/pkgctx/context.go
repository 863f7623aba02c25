// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pkgctx provides the views of a loaded package that patches
// receive: the class set for bytecode patches and the resource tree for
// resource patches.
package pkgctx

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
)

// Kind is the target a patch operates on.
type Kind int

const (
	KindBytecode Kind = iota + 1
	KindResource
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindBytecode:
		return "bytecode"
	case KindResource:
		return "resource"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBytecode || k == KindResource
}

// ErrUnknownKind is returned by View for kinds other than bytecode or resource.
var ErrUnknownKind = errors.New("unknown patch kind")

// PackageInfo identifies the loaded package.
type PackageInfo struct {
	Name        string
	VersionName string
	VersionCode int
}

// View is what a patch's Execute receives. Its concrete type is
// *BytecodeContext or *ResourceContext, matching Kind.
type View interface {
	Kind() Kind
	Package() PackageInfo
}

// Context bundles both views of one loaded package.
//
// Description:
//
//	A Context is built once per run and shared by every patch. It holds no
//	state beyond its bindings to the live class set and resource root.
type Context struct {
	bytecode *BytecodeContext
	resource *ResourceContext
}

// New builds a context over a class set and a resource root.
//
// Inputs:
//
//	info - Package identity exposed to patches.
//	set - The live class set.
//	root - Directory holding the decoded resources.
//	sessions - Run-scoped document session registry.
func New(info PackageInfo, set *classes.ClassSet, root string, sessions *resource.SessionRegistry) *Context {
	return &Context{
		bytecode: &BytecodeContext{info: info, set: set},
		resource: &ResourceContext{info: info, root: root, sessions: sessions},
	}
}

// Bytecode returns the bytecode view.
func (c *Context) Bytecode() *BytecodeContext {
	return c.bytecode
}

// Resource returns the resource view.
func (c *Context) Resource() *ResourceContext {
	return c.resource
}

// View returns the view matching kind.
func (c *Context) View(kind Kind) (View, error) {
	switch kind {
	case KindBytecode:
		return c.bytecode, nil
	case KindResource:
		return c.resource, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
