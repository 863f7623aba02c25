// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patchertest builds package archives for tests.
package patchertest

import (
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/codec"
)

// Identity of the fixture package.
const (
	PackageName = "com.example.app"
	VersionName = "1.2.0"
	VersionCode = 12

	SecurityClass  = "Lcom/example/app/Security;"
	AnalyticsClass = "Lcom/example/app/Analytics;"
	MainClass      = "Lcom/example/app/Main;"

	StringsEntry = "res/values/strings.xml"
	IconEntry    = "res/drawable/icon.png"
)

// Manifest is the fixture's manifest.xml.
const Manifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app" android:versionName="1.2.0" android:versionCode="12">
  <application android:label="@string/app_name"/>
</manifest>
`

// Strings is the fixture's res/values/strings.xml.
const Strings = `<?xml version="1.0" encoding="utf-8"?>
<resources>
  <string name="app_name">Example</string>
</resources>
`

// Icon is an opaque binary resource.
var Icon = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// Classes returns the fixture class records: a signature verifier, an
// analytics initializer and an entry point that calls both.
func Classes() []*classes.ClassRecord {
	return []*classes.ClassRecord{
		{
			Type:        SecurityClass,
			SuperType:   "Ljava/lang/Object;",
			AccessFlags: classes.AccessPublic,
			Methods: []*classes.Method{{
				DefiningClass: SecurityClass,
				Name:          "verify",
				Parameters:    []string{"Landroid/content/Context;"},
				ReturnType:    "Z",
				AccessFlags:   classes.AccessPublic | classes.AccessStatic,
				Registers:     3,
				Instructions: []classes.Instruction{
					{Opcode: "const-string", Operands: []string{"v0", `"SHA-256"`}},
					{Opcode: "invoke-static", Operands: []string{"{v2, v0}", "Lcom/example/app/Security;->digest(Landroid/content/Context;Ljava/lang/String;)Z"}},
					{Opcode: "move-result", Operands: []string{"v1"}},
					{Opcode: "return", Operands: []string{"v1"}},
				},
			}},
		},
		{
			Type:        AnalyticsClass,
			SuperType:   "Ljava/lang/Object;",
			AccessFlags: classes.AccessPublic,
			Fields: []*classes.Field{
				{Name: "enabled", Type: "Z", AccessFlags: classes.AccessPrivate | classes.AccessStatic},
			},
			Methods: []*classes.Method{{
				DefiningClass: AnalyticsClass,
				Name:          "init",
				ReturnType:    "V",
				AccessFlags:   classes.AccessPublic | classes.AccessStatic,
				Registers:     1,
				Instructions: []classes.Instruction{
					{Opcode: "const-string", Operands: []string{"v0", `"analytics_collection_enabled"`}},
					{Opcode: "invoke-static", Operands: []string{"{v0}", "Lcom/example/app/Analytics;->start(Ljava/lang/String;)V"}},
					{Opcode: "return-void"},
				},
			}},
		},
		{
			Type:        MainClass,
			SuperType:   "Landroid/app/Activity;",
			AccessFlags: classes.AccessPublic,
			Methods: []*classes.Method{{
				DefiningClass: MainClass,
				Name:          "onCreate",
				Parameters:    []string{"Landroid/os/Bundle;"},
				ReturnType:    "V",
				AccessFlags:   classes.AccessPublic,
				Registers:     2,
				Instructions: []classes.Instruction{
					{Opcode: "invoke-static", Operands: []string{"{}", "Lcom/example/app/Analytics;->init()V"}},
					{Opcode: "return-void"},
				},
			}},
		},
	}
}

// Archive returns the fixture archive in memory.
func Archive(t testing.TB) *codec.Archive {
	t.Helper()

	c, err := codec.NewCBORCodec()
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	data, err := c.WriteContainer(Classes(), codec.Opcodes{APILevel: 34})
	if err != nil {
		t.Fatalf("encode classes: %v", err)
	}

	a := codec.NewArchive()
	entries := map[string][]byte{
		codec.ClassesEntry:  data,
		codec.ManifestEntry: []byte(Manifest),
		StringsEntry:        []byte(Strings),
		IconEntry:           Icon,
	}
	for name, content := range entries {
		if err := a.Set(name, content); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	return a
}

// WriteArchive writes the fixture archive under t.TempDir and returns its
// path.
func WriteArchive(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.apkx")
	if err := Archive(t).WriteFile(path); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}
