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
	"log/slog"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

// Registry is the catalogue of known patches.
//
// Description:
//
//	Patches are kept in registration order. Select turns a user selection
//	into a Plan, discovering dependencies transitively.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	patches map[string]Patch
	order   []string
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		patches: make(map[string]Patch),
	}
}

// Register adds patches to the catalogue.
//
// Outputs:
//
//	error - ErrNilPatch, or *DefinitionError wrapping ErrEmptyName,
//	ErrInvalidKind or ErrDuplicatePatch. Patches before the failing one
//	stay registered.
func (r *Registry) Register(patches ...Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range patches {
		if p == nil {
			return ErrNilPatch
		}
		name := p.Name()
		if name == "" {
			return &DefinitionError{Err: ErrEmptyName}
		}
		if !p.Kind().Valid() {
			return &DefinitionError{Patch: name, Err: ErrInvalidKind}
		}
		if _, exists := r.patches[name]; exists {
			return &DefinitionError{Patch: name, Err: ErrDuplicatePatch}
		}
		r.patches[name] = p
		r.order = append(r.order, name)
	}
	return nil
}

// Lookup returns the patch registered under name.
func (r *Registry) Lookup(name string) (Patch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patches[name]
	return p, ok
}

// All returns every registered patch in registration order.
func (r *Registry) All() []Patch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Patch, len(r.order))
	for i, name := range r.order {
		out[i] = r.patches[name]
	}
	return out
}

// Selection describes which patches a run should apply.
type Selection struct {
	// Include lists patch names to run. Empty means every registered patch.
	Include []string

	// Exclude lists patch names to leave out of the top-level set. An
	// excluded patch still runs if an included patch depends on it.
	Exclude []string

	// Package, when set, filters out patches incompatible with it.
	Package *pkgctx.PackageInfo

	// IgnoreCompatibility keeps incompatible patches.
	IgnoreCompatibility bool
}

// Plan is the outcome of Select.
type Plan struct {
	// Patches are the top-level patches, in selection order.
	Patches []Patch

	// Closure holds Patches plus every transitive dependency, each once,
	// dependencies before dependents where the graph allows.
	Closure []Patch

	// Skipped names patches dropped as incompatible.
	Skipped []string
}

// RequiresFullResources reports whether any patch in the closure edits
// resources, in which case resources must be fully decoded.
func (p *Plan) RequiresFullResources() bool {
	for _, pt := range p.Closure {
		if pt.Kind() == pkgctx.KindResource {
			return true
		}
	}
	return false
}

// Names returns the names of the top-level patches.
func (p *Plan) Names() []string {
	out := make([]string, len(p.Patches))
	for i, pt := range p.Patches {
		out[i] = pt.Name()
	}
	return out
}

// Select resolves a selection against the catalogue.
//
// Description:
//
//	Unknown included or excluded names are errors, as are dependencies
//	that name no registered patch. Deprecated patches that end up in the
//	closure are logged with their replacement.
//
// Outputs:
//
//	*Plan - The resolved plan.
//	error - *DefinitionError wrapping ErrUnknownPatch or ErrUnknownDependency.
func (r *Registry) Select(sel Selection) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sel.Exclude {
		if _, ok := r.patches[name]; !ok {
			return nil, &DefinitionError{Patch: name, Err: ErrUnknownPatch}
		}
	}

	names := sel.Include
	if len(names) == 0 {
		names = r.order
	}

	plan := &Plan{}
	seen := make(map[string]bool)
	for _, name := range names {
		p, ok := r.patches[name]
		if !ok {
			return nil, &DefinitionError{Patch: name, Err: ErrUnknownPatch}
		}
		if seen[name] || slices.Contains(sel.Exclude, name) {
			continue
		}
		seen[name] = true
		if sel.Package != nil && !sel.IgnoreCompatibility && !Compatible(p, *sel.Package) {
			r.logger.Info("skipping incompatible patch",
				slog.String("patch", name),
				slog.String("package", sel.Package.Name),
				slog.String("version", sel.Package.VersionName))
			plan.Skipped = append(plan.Skipped, name)
			continue
		}
		plan.Patches = append(plan.Patches, p)
	}

	visited := make(map[string]bool)
	var visit func(p Patch) error
	visit = func(p Patch) error {
		if visited[p.Name()] {
			return nil
		}
		visited[p.Name()] = true
		for _, dep := range p.Dependencies() {
			d, ok := r.patches[dep]
			if !ok {
				return &DefinitionError{Patch: p.Name(), Err: &DefinitionError{Patch: dep, Err: ErrUnknownDependency}}
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		plan.Closure = append(plan.Closure, p)
		return nil
	}
	for _, p := range plan.Patches {
		if err := visit(p); err != nil {
			return nil, err
		}
	}

	for _, p := range plan.Closure {
		if d := p.Deprecation(); d != nil {
			r.logger.Warn("patch is deprecated",
				slog.String("patch", p.Name()),
				slog.String("reason", d.Reason),
				slog.String("replacement", d.Replacement))
		}
	}
	return plan, nil
}
