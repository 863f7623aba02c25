// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/beevik/etree"
	"golang.org/x/sync/errgroup"
)

// Mode selects how much of the resource tree Decode extracts.
type Mode int

const (
	// ModeManifestOnly extracts only the manifest.
	ModeManifestOnly Mode = iota + 1

	// ModeFull extracts the manifest and every resource entry.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeManifestOnly:
		return "manifest_only"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Metadata describes a decoded package.
type Metadata struct {
	PackageName string
	VersionName string
	VersionCode int

	// Mode is the mode the resources were decoded with. Build writes back
	// exactly what Decode extracted.
	Mode Mode

	// Files are the archive entry names extracted, sorted.
	Files []string
}

// ResourceCodec extracts resources to a working directory and rebuilds
// them into an archive.
type ResourceCodec interface {
	Decode(ctx context.Context, a *Archive, mode Mode, dir string) (*Metadata, error)
	Build(ctx context.Context, dir string, meta *Metadata, a *Archive) error
}

// DirCodec is a ResourceCodec that mirrors archive entries as plain files.
//
// Thread Safety:
//
//	DirCodec is safe for concurrent use; it holds no per-call state.
type DirCodec struct {
	logger      *slog.Logger
	concurrency int
}

// NewDirCodec creates a DirCodec. concurrency <= 0 uses 8 workers.
func NewDirCodec(logger *slog.Logger, concurrency int) *DirCodec {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &DirCodec{logger: logger, concurrency: concurrency}
}

// Decode extracts resources from a into dir and reads package metadata
// from the manifest.
//
// Outputs:
//
//	*Metadata - Package identity and the extracted entries.
//	error - ErrMissingEntry without a manifest, ErrInvalidMode, or the
//	first extraction error.
func (d *DirCodec) Decode(ctx context.Context, a *Archive, mode Mode, dir string) (*Metadata, error) {
	var names []string
	switch mode {
	case ModeManifestOnly:
		names = []string{ManifestEntry}
	case ModeFull:
		names = append([]string{ManifestEntry}, a.Resources()...)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}

	manifest, ok := a.Get(ManifestEntry)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, ManifestEntry)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, name := range names {
		data, _ := a.Get(name)
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			target := filepath.Join(dir, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create dir for %s: %w", name, err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}
	meta.Mode = mode
	meta.Files = names

	d.logger.Debug("resources decoded",
		slog.String("mode", mode.String()),
		slog.Int("files", len(names)),
		slog.String("package", meta.PackageName))
	return meta, nil
}

// Build writes the extracted files in dir back into a.
//
// Description:
//
//	In ModeManifestOnly only the manifest is written back. In ModeFull the
//	manifest and every file under dir/res are written back, so files
//	added by patches are included. Entries not touched here are left as
//	they are.
func (d *DirCodec) Build(ctx context.Context, dir string, meta *Metadata, a *Archive) error {
	names := []string{ManifestEntry}
	if meta.Mode == ModeFull {
		resRoot := filepath.Join(dir, filepath.FromSlash(ResourcePrefix))
		err := filepath.WalkDir(resRoot, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == resRoot {
					return filepath.SkipDir
				}
				return err
			}
			if e.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			names = append(names, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan resources: %w", err)
		}
	}

	var mu sync.Mutex
	contents := make(map[string][]byte, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, name := range names {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			mu.Lock()
			contents[name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range names {
		if err := a.Set(name, contents[name]); err != nil {
			return err
		}
	}
	d.logger.Debug("resources built", slog.Int("files", len(names)))
	return nil
}

// parseManifest reads package identity from the manifest root element.
// Attributes may carry an "android:" prefix.
func parseManifest(data []byte) (*Metadata, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse manifest: no root element")
	}

	meta := &Metadata{
		PackageName: root.SelectAttrValue("package", ""),
		VersionName: attr(root, "versionName"),
	}
	if code := attr(root, "versionCode"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("parse manifest: versionCode %q: %w", code, err)
		}
		meta.VersionCode = n
	}
	return meta, nil
}

func attr(e *etree.Element, key string) string {
	if v := e.SelectAttrValue("android:"+key, ""); v != "" {
		return v
	}
	return e.SelectAttrValue(key, "")
}
