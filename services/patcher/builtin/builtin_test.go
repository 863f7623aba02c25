// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builtin_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPatcher/services/patcher"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/builtin"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/codec"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/fingerprint"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patchertest"
)

func run(t *testing.T, sel patch.Selection) (map[string]error, *codec.Archive) {
	t.Helper()
	ctx := context.Background()

	p, err := patcher.Open(ctx, patchertest.WriteArchive(t), patcher.Options{})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, builtin.Register(p.Registry()))

	results := make(map[string]error)
	for name, err := range p.Execute(ctx, sel) {
		results[name] = err
	}

	out := filepath.Join(t.TempDir(), "out.apkx")
	require.NoError(t, p.Save(ctx, out))
	saved, err := codec.ReadArchive(out)
	require.NoError(t, err)
	return results, saved
}

func savedClass(t *testing.T, a *codec.Archive, classType string) *classes.ClassRecord {
	t.Helper()
	c, err := codec.NewCBORCodec()
	require.NoError(t, err)
	data, ok := a.Get(codec.ClassesEntry)
	require.True(t, ok)
	records, _, err := c.ReadContainer(data)
	require.NoError(t, err)
	set, err := classes.NewClassSet(records)
	require.NoError(t, err)
	rec, ok := set.Lookup(classType)
	require.True(t, ok)
	return rec
}

func TestPatches_Catalogue(t *testing.T) {
	reg := patch.NewRegistry(nil)
	require.NoError(t, builtin.Register(reg))

	var names []string
	for _, p := range reg.All() {
		names = append(names, p.Name())
		assert.NotEmpty(t, p.Description(), p.Name())
	}
	assert.Equal(t, []string{
		builtin.ManifestDebuggable,
		builtin.LegacyDebuggable,
		builtin.AppNameSuffix,
		builtin.SignatureCheckBypass,
		builtin.DisableAnalytics,
	}, names)

	legacy, ok := reg.Lookup(builtin.LegacyDebuggable)
	require.True(t, ok)
	require.NotNil(t, legacy.Deprecation())
	assert.Equal(t, builtin.ManifestDebuggable, legacy.Deprecation().Replacement)

	analytics, _ := reg.Lookup(builtin.DisableAnalytics)
	assert.Equal(t, []string{builtin.SignatureCheckBypass, builtin.AppNameSuffix}, analytics.Dependencies())
}

func TestPatches_FreshFingerprints(t *testing.T) {
	a := builtin.Patches()
	b := builtin.Patches()
	for i := range a {
		for j, fp := range a[i].Fingerprints() {
			assert.NotSame(t, fp, b[i].Fingerprints()[j])
		}
	}
}

func TestManifestDebuggable(t *testing.T) {
	results, saved := run(t, patch.Selection{Include: []string{builtin.ManifestDebuggable}})
	assert.NoError(t, results[builtin.ManifestDebuggable])

	data, ok := saved.Get(codec.ManifestEntry)
	require.True(t, ok)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	app := doc.Root().SelectElement("application")
	require.NotNil(t, app)
	assert.Equal(t, "true", app.SelectAttrValue("android:debuggable", ""))
}

func TestDisableAnalytics_RunsDependencies(t *testing.T) {
	results, saved := run(t, patch.Selection{Include: []string{builtin.DisableAnalytics}})
	assert.Equal(t, map[string]error{builtin.DisableAnalytics: nil}, results)

	analytics := savedClass(t, saved, patchertest.AnalyticsClass)
	initMethod, _ := analytics.Method("init")
	require.NotNil(t, initMethod)
	require.Len(t, initMethod.Instructions, 1)
	assert.Equal(t, "return-void", initMethod.Instructions[0].Opcode)

	security := savedClass(t, saved, patchertest.SecurityClass)
	verify, _ := security.Method("verify")
	require.NotNil(t, verify)
	assert.Equal(t, "const/4 v0, 0x1", verify.Instructions[0].String())
	assert.Equal(t, "return v0", verify.Instructions[1].String())

	data, _ := saved.Get(patchertest.StringsEntry)
	assert.Contains(t, string(data), "Example"+builtin.NameSuffix)

	entry := savedClass(t, saved, patchertest.MainClass)
	assert.Len(t, entry.Methods[0].Instructions, 2, "unrelated classes stay untouched")
}

func TestAppNameSuffix_MissingString(t *testing.T) {
	ctx := context.Background()
	a := patchertest.Archive(t)
	require.NoError(t, a.Set(patchertest.StringsEntry, []byte(`<resources/>`)))
	path := filepath.Join(t.TempDir(), "bare.apkx")
	require.NoError(t, a.WriteFile(path))

	p, err := patcher.Open(ctx, path, patcher.Options{})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, builtin.Register(p.Registry()))

	for name, err := range p.Execute(ctx, patch.Selection{Include: []string{builtin.AppNameSuffix}}) {
		assert.Equal(t, builtin.AppNameSuffix, name)
		assert.ErrorIs(t, err, builtin.ErrElementNotFound)
	}
}

func TestSignatureCheckBypass_Unresolved(t *testing.T) {
	ctx := context.Background()
	a := patchertest.Archive(t)

	c, err := codec.NewCBORCodec()
	require.NoError(t, err)
	data, err := c.WriteContainer(patchertest.Classes()[1:], codec.Opcodes{APILevel: 34})
	require.NoError(t, err)
	require.NoError(t, a.Set(codec.ClassesEntry, data))
	path := filepath.Join(t.TempDir(), "no-verifier.apkx")
	require.NoError(t, a.WriteFile(path))

	p, err := patcher.Open(ctx, path, patcher.Options{})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, builtin.Register(p.Registry()))

	for _, err := range p.Execute(ctx, patch.Selection{Include: []string{builtin.SignatureCheckBypass}}) {
		assert.ErrorIs(t, err, fingerprint.ErrFingerprintNotResolved)
	}
}
