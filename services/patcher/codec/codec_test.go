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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

const testManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app" android:versionName="2.1.0" android:versionCode="42">
  <application android:label="@string/app_name"/>
</manifest>`

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a := NewArchive()
	require.NoError(t, a.Set(ManifestEntry, []byte(testManifest)))
	require.NoError(t, a.Set("res/values/strings.xml", []byte(`<resources><string name="app_name">Example</string></resources>`)))
	require.NoError(t, a.Set("res/raw/blob.bin", []byte{0, 1, 2}))
	require.NoError(t, a.Set(ClassesEntry, []byte("placeholder")))
	return a
}

func TestCBORCodec_RoundTrip(t *testing.T) {
	c, err := NewCBORCodec()
	require.NoError(t, err)

	records := []*classes.ClassRecord{
		{Type: "LB;", Fields: []*classes.Field{{Name: "x", Type: "I"}}},
		{Type: "LA;", Methods: []*classes.Method{{
			DefiningClass: "LA;",
			Name:          "run",
			ReturnType:    "V",
			Instructions:  []classes.Instruction{{Opcode: "return-void"}},
		}}},
	}
	data, err := c.WriteContainer(records, Opcodes{APILevel: 34})
	require.NoError(t, err)

	again, err := c.WriteContainer(records, Opcodes{APILevel: 34})
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical encoding is deterministic")

	got, ops, err := c.ReadContainer(data)
	require.NoError(t, err)
	assert.Equal(t, 34, ops.APILevel)
	require.Len(t, got, 2)
	assert.Equal(t, "LB;", got[0].Type, "order preserved")
	assert.Equal(t, "return-void", got[1].Methods[0].Instructions[0].Opcode)
}

func TestCBORCodec_RejectsForeignData(t *testing.T) {
	c, err := NewCBORCodec()
	require.NoError(t, err)

	_, _, err = c.ReadContainer([]byte("not cbor at all"))
	assert.Error(t, err)

	foreign, err := cbor.Marshal(container{Magic: "NOPE", Version: containerVersion})
	require.NoError(t, err)
	_, _, err = c.ReadContainer(foreign)
	assert.ErrorIs(t, err, ErrBadMagic)

	future, err := cbor.Marshal(container{Magic: containerMagic, Version: 99})
	require.NoError(t, err)
	_, _, err = c.ReadContainer(future)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestArchive_EncodeDecode(t *testing.T) {
	a := testArchive(t)
	data, err := a.Encode()
	require.NoError(t, err)

	b, err := DecodeArchive(data)
	require.NoError(t, err)
	assert.Equal(t, a.Names(), b.Names())
	assert.Equal(t, []string{"res/raw/blob.bin", "res/values/strings.xml"}, b.Resources())

	blob, ok := b.Get("res/raw/blob.bin")
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2}, blob)

	path := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, a.WriteFile(path))
	c, err := ReadArchive(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestArchive_UnsafeNames(t *testing.T) {
	a := NewArchive()
	for _, name := range []string{"", "../escape", "/abs", `res\win`} {
		assert.ErrorIs(t, a.Set(name, nil), ErrUnsafeEntry, name)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../../etc/passwd")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DecodeArchive(buf.Bytes())
	assert.Error(t, err)
}

func TestDirCodec_ManifestOnly(t *testing.T) {
	d := NewDirCodec(nil, 0)
	dir := t.TempDir()

	meta, err := d.Decode(context.Background(), testArchive(t), ModeManifestOnly, dir)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", meta.PackageName)
	assert.Equal(t, "2.1.0", meta.VersionName)
	assert.Equal(t, 42, meta.VersionCode)
	assert.Equal(t, []string{ManifestEntry}, meta.Files)

	assert.FileExists(t, filepath.Join(dir, ManifestEntry))
	assert.NoDirExists(t, filepath.Join(dir, "res"))
}

func TestDirCodec_FullRoundTrip(t *testing.T) {
	d := NewDirCodec(nil, 2)
	dir := t.TempDir()
	a := testArchive(t)

	meta, err := d.Decode(context.Background(), a, ModeFull, dir)
	require.NoError(t, err)
	assert.Len(t, meta.Files, 3)
	assert.FileExists(t, filepath.Join(dir, "res", "values", "strings.xml"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "res", "values", "strings.xml"), []byte("<resources/>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "res", "xml"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "res", "xml", "added.xml"), []byte("<added/>"), 0o644))

	require.NoError(t, d.Build(context.Background(), dir, meta, a))

	strs, _ := a.Get("res/values/strings.xml")
	assert.Equal(t, "<resources/>", string(strs))
	added, ok := a.Get("res/xml/added.xml")
	require.True(t, ok)
	assert.Equal(t, "<added/>", string(added))
	classesBin, _ := a.Get(ClassesEntry)
	assert.Equal(t, "placeholder", string(classesBin), "untouched entries kept")
}

func TestDirCodec_Errors(t *testing.T) {
	d := NewDirCodec(nil, 0)

	_, err := d.Decode(context.Background(), NewArchive(), ModeFull, t.TempDir())
	assert.ErrorIs(t, err, ErrMissingEntry)

	_, err = d.Decode(context.Background(), testArchive(t), Mode(0), t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidMode)

	bad := NewArchive()
	require.NoError(t, bad.Set(ManifestEntry, []byte(`<manifest package="x" versionCode="abc"/>`)))
	_, err = d.Decode(context.Background(), bad, ModeManifestOnly, t.TempDir())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Decode(ctx, testArchive(t), ModeFull, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
