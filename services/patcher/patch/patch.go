// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch defines patch units and the catalogue they are selected from.
package patch

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/fingerprint"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

// Patch is a named, dependency-aware unit of mutation.
//
// Description:
//
//	A Patch is a declaration. New creates the Instance that actually runs;
//	the scheduler calls New at most once per run. Dependencies are patch
//	names and always complete before the patch itself begins.
//
// Thread Safety:
//
//	Implementations must be safe to read from multiple goroutines. New is
//	called from one goroutine.
type Patch interface {
	// Name returns the patch's stable identity.
	Name() string

	// Description returns a one-line summary for listings.
	Description() string

	// Dependencies returns the names of patches that must run first, in order.
	Dependencies() []string

	// Kind selects the view the instance receives.
	Kind() pkgctx.Kind

	// Deprecation returns nil unless the patch is deprecated.
	Deprecation() *Deprecation

	// Compatibility lists the packages the patch applies to. Empty means any.
	Compatibility() []Compatibility

	// Fingerprints are resolved against the class set before a bytecode
	// patch executes.
	Fingerprints() []*fingerprint.Fingerprint

	// New instantiates the patch for one run.
	New() (Instance, error)
}

// Instance is one instantiated patch.
//
// Instances that hold resources implement io.Closer; Close is called
// during teardown in reverse creation order, whether or not Execute
// succeeded.
type Instance interface {
	Execute(ctx context.Context, view pkgctx.View) error
}

// Deprecation marks a patch as deprecated.
type Deprecation struct {
	Reason string

	// Replacement optionally names the patch to use instead.
	Replacement string
}

func (d Deprecation) String() string {
	if d.Replacement == "" {
		return d.Reason
	}
	return fmt.Sprintf("%s (use %q instead)", d.Reason, d.Replacement)
}

// BasePatch implements everything in Patch except New.
//
// Example:
//
//	type RenamePatch struct {
//	    patch.BasePatch
//	}
//
//	func (p *RenamePatch) New() (patch.Instance, error) {
//	    return &renameInstance{}, nil
//	}
type BasePatch struct {
	PatchName          string
	PatchDescription   string
	PatchDependencies  []string
	PatchKind          pkgctx.Kind
	PatchDeprecation   *Deprecation
	PatchCompatibility []Compatibility
	PatchFingerprints  []*fingerprint.Fingerprint
}

func (p *BasePatch) Name() string              { return p.PatchName }
func (p *BasePatch) Description() string       { return p.PatchDescription }
func (p *BasePatch) Kind() pkgctx.Kind         { return p.PatchKind }
func (p *BasePatch) Deprecation() *Deprecation { return p.PatchDeprecation }

// Dependencies returns the declared dependencies, never nil.
func (p *BasePatch) Dependencies() []string {
	if p.PatchDependencies == nil {
		return []string{}
	}
	return p.PatchDependencies
}

func (p *BasePatch) Compatibility() []Compatibility {
	return p.PatchCompatibility
}

func (p *BasePatch) Fingerprints() []*fingerprint.Fingerprint {
	return p.PatchFingerprints
}

// New returns ErrNotImplemented. Concrete patches must override it.
func (p *BasePatch) New() (Instance, error) {
	return nil, &DefinitionError{Patch: p.PatchName, Err: ErrNotImplemented}
}

// FuncPatch wraps a function as a Patch.
//
// Description:
//
//	Use Bytecode or Resource to build one. Every New returns a fresh
//	instance that calls the function; an optional close hook runs at
//	teardown.
type FuncPatch struct {
	BasePatch
	fn      func(context.Context, pkgctx.View) error
	onClose func() error
}

// Bytecode creates a bytecode patch from fn.
func Bytecode(name string, deps []string, fn func(context.Context, *pkgctx.BytecodeContext) error) *FuncPatch {
	return &FuncPatch{
		BasePatch: BasePatch{PatchName: name, PatchDependencies: deps, PatchKind: pkgctx.KindBytecode},
		fn: func(ctx context.Context, v pkgctx.View) error {
			bc, ok := v.(*pkgctx.BytecodeContext)
			if !ok {
				return fmt.Errorf("%w: want %s, got %T", ErrViewMismatch, pkgctx.KindBytecode, v)
			}
			return fn(ctx, bc)
		},
	}
}

// Resource creates a resource patch from fn.
func Resource(name string, deps []string, fn func(context.Context, *pkgctx.ResourceContext) error) *FuncPatch {
	return &FuncPatch{
		BasePatch: BasePatch{PatchName: name, PatchDependencies: deps, PatchKind: pkgctx.KindResource},
		fn: func(ctx context.Context, v pkgctx.View) error {
			rc, ok := v.(*pkgctx.ResourceContext)
			if !ok {
				return fmt.Errorf("%w: want %s, got %T", ErrViewMismatch, pkgctx.KindResource, v)
			}
			return fn(ctx, rc)
		},
	}
}

// WithDescription sets the description.
func (p *FuncPatch) WithDescription(desc string) *FuncPatch {
	p.PatchDescription = desc
	return p
}

// WithDeprecation marks the patch deprecated.
func (p *FuncPatch) WithDeprecation(reason, replacement string) *FuncPatch {
	p.PatchDeprecation = &Deprecation{Reason: reason, Replacement: replacement}
	return p
}

// WithCompatibility adds a compatible package.
func (p *FuncPatch) WithCompatibility(pkg string, versions ...string) *FuncPatch {
	p.PatchCompatibility = append(p.PatchCompatibility, Compatibility{Package: pkg, Versions: versions})
	return p
}

// WithFingerprints sets the fingerprints resolved before execution.
func (p *FuncPatch) WithFingerprints(fps ...*fingerprint.Fingerprint) *FuncPatch {
	p.PatchFingerprints = fps
	return p
}

// WithClose sets a hook run when the instance is torn down.
func (p *FuncPatch) WithClose(fn func() error) *FuncPatch {
	p.onClose = fn
	return p
}

// New returns a fresh instance.
func (p *FuncPatch) New() (Instance, error) {
	if p.fn == nil {
		return nil, &DefinitionError{Patch: p.PatchName, Err: ErrNotImplemented}
	}
	return &funcInstance{fn: p.fn, onClose: p.onClose}, nil
}

type funcInstance struct {
	fn      func(context.Context, pkgctx.View) error
	onClose func() error
}

func (i *funcInstance) Execute(ctx context.Context, view pkgctx.View) error {
	return i.fn(ctx, view)
}

func (i *funcInstance) Close() error {
	if i.onClose == nil {
		return nil
	}
	return i.onClose()
}
