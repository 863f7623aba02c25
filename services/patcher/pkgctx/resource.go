// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pkgctx

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
)

// ErrPathEscapesRoot is returned when a resource path leaves the resource root.
var ErrPathEscapesRoot = errors.New("path escapes resource root")

// ResourceContext is the view resource patches receive.
//
// Structured documents must be opened through Document so that sessions
// on the same file share one write-back.
type ResourceContext struct {
	info     PackageInfo
	root     string
	sessions *resource.SessionRegistry
}

func (r *ResourceContext) Kind() Kind           { return KindResource }
func (r *ResourceContext) Package() PackageInfo { return r.info }

// Root returns the resource root directory.
func (r *ResourceContext) Root() string {
	return r.root
}

// Resolve maps a slash-separated path relative to the root to a file path.
func (r *ResourceContext) Resolve(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	return filepath.Join(r.root, local), nil
}

// Document opens a shared editing session on the document at rel.
func (r *ResourceContext) Document(rel string) (*resource.Editor, error) {
	path, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return r.sessions.Open(path)
}

// DocumentFromStream opens a session on a document read from src. It is
// written to sink on Close when sink is not nil.
func (r *ResourceContext) DocumentFromStream(name string, src io.Reader, sink resource.Sink) (*resource.Editor, error) {
	return r.sessions.OpenStream(name, src, sink)
}
