// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/codec"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/ledger"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patchertest"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

func openFixture(t *testing.T, opts Options) *Patcher {
	t.Helper()
	p, err := Open(context.Background(), patchertest.WriteArchive(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func drain(t *testing.T, p *Patcher, sel patch.Selection) map[string]error {
	t.Helper()
	out := make(map[string]error)
	for name, err := range p.Execute(context.Background(), sel) {
		out[name] = err
	}
	return out
}

func TestOpen(t *testing.T) {
	p := openFixture(t, Options{})

	info := p.Package()
	assert.Equal(t, patchertest.PackageName, info.Name)
	assert.Equal(t, patchertest.VersionName, info.VersionName)
	assert.Equal(t, patchertest.VersionCode, info.VersionCode)
	assert.Equal(t, 3, p.Classes().Len())
	assert.Len(t, p.RunID(), 12)

	assert.FileExists(t, filepath.Join(p.WorkDir(), codec.ManifestEntry))
	assert.NoFileExists(t, filepath.Join(p.WorkDir(), filepath.FromSlash(patchertest.StringsEntry)),
		"resources must not be extracted before a resource patch is selected")
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", Options{})
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Open(ctx, filepath.Join(t.TempDir(), "missing.apkx"), Options{})
	assert.Error(t, err)

	a := patchertest.Archive(t)
	noClasses := codec.NewArchive()
	for _, name := range a.Names() {
		if name == codec.ClassesEntry {
			continue
		}
		data, _ := a.Get(name)
		require.NoError(t, noClasses.Set(name, data))
	}
	path := filepath.Join(t.TempDir(), "no-classes.apkx")
	require.NoError(t, noClasses.WriteFile(path))

	_, err = Open(ctx, path, Options{})
	assert.ErrorIs(t, err, codec.ErrMissingEntry)
}

func TestOpen_TempWorkDirRemovedOnClose(t *testing.T) {
	p, err := Open(context.Background(), patchertest.WriteArchive(t), Options{})
	require.NoError(t, err)

	dir := p.WorkDir()
	assert.DirExists(t, dir)
	require.NoError(t, p.Close())
	assert.NoDirExists(t, dir)
	assert.NoError(t, p.Close())
}

func TestOpen_KeepsCallerWorkDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	p, err := Open(context.Background(), patchertest.WriteArchive(t), Options{WorkDir: dir})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.DirExists(t, dir)
}

func TestExecuteAndSave(t *testing.T) {
	p := openFixture(t, Options{Locking: true})

	rename := patch.Bytecode("rename-field", nil, func(_ context.Context, bc *pkgctx.BytecodeContext) error {
		proxy, ok := bc.FindClass(patchertest.AnalyticsClass)
		if !ok {
			return errors.New("analytics class missing")
		}
		proxy.Mutable().RenameField("enabled", "disabled")
		return nil
	})
	label := patch.Resource("label", []string{"rename-field"}, func(_ context.Context, rc *pkgctx.ResourceContext) error {
		doc, err := rc.Document(patchertest.StringsEntry)
		if err != nil {
			return err
		}
		doc.Root().FindElement("string[@name='app_name']").SetText("Relabelled")
		return doc.Close()
	})
	require.NoError(t, p.Register(rename, label))

	results := drain(t, p, patch.Selection{Include: []string{"label"}})
	assert.Equal(t, map[string]error{"label": nil}, results)
	assert.Equal(t, []string{"label"}, p.Plan().Names())
	assert.FileExists(t, filepath.Join(p.WorkDir(), filepath.FromSlash(patchertest.StringsEntry)))

	out := filepath.Join(t.TempDir(), "out.apkx")
	require.NoError(t, p.Save(context.Background(), out))

	saved, err := codec.ReadArchive(out)
	require.NoError(t, err)

	strs, ok := saved.Get(patchertest.StringsEntry)
	require.True(t, ok)
	assert.Contains(t, string(strs), "Relabelled")

	icon, ok := saved.Get(patchertest.IconEntry)
	require.True(t, ok)
	assert.Equal(t, patchertest.Icon, icon)

	c, err := codec.NewCBORCodec()
	require.NoError(t, err)
	data, _ := saved.Get(codec.ClassesEntry)
	records, opcodes, err := c.ReadContainer(data)
	require.NoError(t, err)
	assert.Equal(t, 34, opcodes.APILevel)

	set, err := classes.NewClassSet(records)
	require.NoError(t, err)
	analytics, ok := set.Lookup(patchertest.AnalyticsClass)
	require.True(t, ok)
	assert.NotNil(t, analytics.Field("disabled"))
	assert.Nil(t, analytics.Field("enabled"))

	report := p.Report()
	assert.Equal(t, p.RunID(), report.ID)
	assert.Equal(t, out, report.Output)
	assert.Equal(t, patchertest.PackageName, report.PackageName)
	require.Len(t, report.Patches, 2)
	assert.Equal(t, "rename-field", report.Patches[0].Name)
	assert.Equal(t, "label", report.Patches[1].Name)
	assert.Zero(t, report.Failed())
	require.Len(t, report.WriteBacks, 1)
	assert.True(t, report.WriteBacks[0].Changed())
}

func TestExecute_FailureReported(t *testing.T) {
	p := openFixture(t, Options{})

	boom := errors.New("boom")
	require.NoError(t, p.Register(
		patch.Bytecode("bad", nil, func(context.Context, *pkgctx.BytecodeContext) error { return boom }),
		patch.Bytecode("after", []string{"bad"}, func(context.Context, *pkgctx.BytecodeContext) error { return nil }),
	))

	results := drain(t, p, patch.Selection{})
	assert.ErrorIs(t, results["bad"], ledger.ErrPatchRaised)
	assert.ErrorIs(t, results["after"], ledger.ErrDependencyFailed)

	report := p.Report()
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, "failed", report.Patches[0].Status)
	assert.Contains(t, report.Patches[0].Error, "boom")
}

func TestExecute_Twice(t *testing.T) {
	p := openFixture(t, Options{})
	drain(t, p, patch.Selection{})

	results := drain(t, p, patch.Selection{})
	assert.ErrorIs(t, results[""], ErrAlreadyExecuted)
}

func TestExecute_UnknownPatch(t *testing.T) {
	p := openFixture(t, Options{})

	results := drain(t, p, patch.Selection{Include: []string{"nope"}})
	assert.ErrorIs(t, results[""], patch.ErrUnknownPatch)
	assert.ErrorIs(t, p.Save(context.Background(), filepath.Join(t.TempDir(), "x")), ErrNotExecuted)
}

func TestExecute_SkipsIncompatible(t *testing.T) {
	p := openFixture(t, Options{})

	ran := false
	other := patch.Bytecode("other-app", nil, func(context.Context, *pkgctx.BytecodeContext) error {
		ran = true
		return nil
	}).WithCompatibility("com.other.app")
	require.NoError(t, p.Register(other))

	results := drain(t, p, patch.Selection{})
	assert.Empty(t, results)
	assert.False(t, ran)
	assert.Equal(t, []string{"other-app"}, p.Plan().Skipped)
}

func TestExecute_EarlyBreakStillSaves(t *testing.T) {
	p := openFixture(t, Options{})
	require.NoError(t, p.Register(
		patch.Bytecode("one", nil, func(context.Context, *pkgctx.BytecodeContext) error { return nil }),
		patch.Bytecode("two", nil, func(context.Context, *pkgctx.BytecodeContext) error { return nil }),
	))

	for range p.Execute(context.Background(), patch.Selection{}) {
		break
	}
	require.NoError(t, p.Save(context.Background(), filepath.Join(t.TempDir(), "out.apkx")))
	assert.Len(t, p.Report().Patches, 1)
}

func TestSave_Errors(t *testing.T) {
	p := openFixture(t, Options{})
	drain(t, p, patch.Selection{})

	assert.ErrorIs(t, p.Save(context.Background(), ""), ErrEmptyPath)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Save(context.Background(), "out"), ErrClosed)
	assert.ErrorIs(t, p.Register(patch.Bytecode("late", nil, nil)), ErrClosed)

	results := drain(t, p, patch.Selection{})
	assert.ErrorIs(t, results[""], ErrClosed)
}

func TestSave_RejectsRetypeCollision(t *testing.T) {
	p := openFixture(t, Options{})
	require.NoError(t, p.Register(patch.Bytecode("collide", nil, func(_ context.Context, bc *pkgctx.BytecodeContext) error {
		proxy, ok := bc.FindClass(patchertest.MainClass)
		if !ok {
			return errors.New("main class missing")
		}
		proxy.Mutable().Type = patchertest.SecurityClass
		return nil
	})))
	results := drain(t, p, patch.Selection{Include: []string{"collide"}})
	require.NoError(t, results["collide"])

	out := filepath.Join(t.TempDir(), "out.apkx")
	err := p.Save(context.Background(), out)
	assert.ErrorIs(t, err, classes.ErrDuplicateClass)
	assert.NoFileExists(t, out)
}

func TestSave_InputUntouched(t *testing.T) {
	input := patchertest.WriteArchive(t)
	before, err := os.ReadFile(input)
	require.NoError(t, err)

	p, err := Open(context.Background(), input, Options{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Register(patch.Resource("touch", nil, func(_ context.Context, rc *pkgctx.ResourceContext) error {
		doc, err := rc.Document(codec.ManifestEntry)
		if err != nil {
			return err
		}
		doc.Root().CreateAttr("touched", "yes")
		return doc.Close()
	})))
	drain(t, p, patch.Selection{})
	out := filepath.Join(t.TempDir(), "out.apkx")
	require.NoError(t, p.Save(context.Background(), out))

	after, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	saved, err := codec.ReadArchive(out)
	require.NoError(t, err)
	manifest, _ := saved.Get(codec.ManifestEntry)
	assert.True(t, strings.Contains(string(manifest), `touched="yes"`))
}
