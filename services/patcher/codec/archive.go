// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec reads and writes package archives: the class container
// and the resource tree.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/AleutianPatcher/pkg/fsutil"
)

// Well-known archive entries.
const (
	ClassesEntry   = "classes.bin"
	ManifestEntry  = "manifest.xml"
	ResourcePrefix = "res/"
)

// Archive is an in-memory package archive.
//
// Description:
//
//	Entries are kept as raw bytes keyed by slash-separated name. Writing
//	emits entries in sorted order so identical contents produce identical
//	archives.
//
// Thread Safety:
//
//	Archive is NOT safe for concurrent mutation.
type Archive struct {
	entries map[string][]byte
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{entries: make(map[string][]byte)}
}

// ReadArchive loads the archive at path.
func ReadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return DecodeArchive(data)
}

// DecodeArchive parses zip bytes.
//
// Outputs:
//
//	*Archive - The archive.
//	error - ErrUnsafeEntry if an entry name is absolute or climbs out of
//	the archive root, or the zip reader's error.
func DecodeArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := NewArchive()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !validEntryName(f.Name) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeEntry, f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		a.entries[f.Name] = content
	}
	return a, nil
}

// Get returns the content of name.
func (a *Archive) Get(name string) ([]byte, bool) {
	data, ok := a.entries[name]
	return data, ok
}

// Set stores content under name, replacing any existing entry.
func (a *Archive) Set(name string, data []byte) error {
	if !validEntryName(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	a.entries[name] = data
	return nil
}

// Names returns all entry names, sorted.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resources returns the names under ResourcePrefix, sorted.
func (a *Archive) Resources() []string {
	var out []string
	for _, name := range a.Names() {
		if strings.HasPrefix(name, ResourcePrefix) {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Encode returns the archive as zip bytes.
func (a *Archive) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile atomically writes the archive to path.
func (a *Archive) WriteFile(path string) error {
	return fsutil.WriteAtomic(path, 0o644, a.writeTo)
}

func (a *Archive) writeTo(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, name := range a.Names() {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := fw.Write(a.entries[name]); err != nil {
			return fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func validEntryName(name string) bool {
	return name != "" && !strings.Contains(name, `\`) && filepath.IsLocal(filepath.FromSlash(name))
}
