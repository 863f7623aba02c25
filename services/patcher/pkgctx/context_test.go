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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
)

func newTestContext(t *testing.T) (*Context, string) {
	t.Helper()
	main := &classes.ClassRecord{
		Type: "Lcom/app/Main;",
		Methods: []*classes.Method{{
			DefiningClass: "Lcom/app/Main;",
			Name:          "onCreate",
			ReturnType:    "V",
			Instructions: []classes.Instruction{
				{Opcode: "const/4", Operands: []string{"v0", "0x1"}},
				{Opcode: "invoke-static", Operands: []string{"{v0}", "Lcom/app/Util;->init(I)V"}},
				{Opcode: "return-void"},
			},
		}},
	}
	util := &classes.ClassRecord{
		Type: "Lcom/app/Util;",
		Methods: []*classes.Method{
			{DefiningClass: "Lcom/app/Util;", Name: "init", ReturnType: "V", Parameters: []string{"Z"}},
			{
				DefiningClass: "Lcom/app/Util;",
				Name:          "init",
				Parameters:    []string{"I"},
				ReturnType:    "V",
				Instructions: []classes.Instruction{
					{Opcode: "invoke-static", Operands: []string{"{}", "Lcom/app/Missing;->x()V"}},
					{Opcode: "return-void"},
				},
			},
		},
	}
	set, err := classes.NewClassSet([]*classes.ClassRecord{main, util})
	require.NoError(t, err)

	root := t.TempDir()
	info := PackageInfo{Name: "com.app", VersionName: "1.0", VersionCode: 1}
	return New(info, set, root, resource.NewSessionRegistry(nil, nil)), root
}

func TestContext_View(t *testing.T) {
	ctx, _ := newTestContext(t)

	v, err := ctx.View(KindBytecode)
	require.NoError(t, err)
	assert.Equal(t, KindBytecode, v.Kind())
	assert.Same(t, ctx.Bytecode(), v)
	assert.Equal(t, "com.app", v.Package().Name)

	v, err = ctx.View(KindResource)
	require.NoError(t, err)
	assert.Same(t, ctx.Resource(), v)

	_, err = ctx.View(Kind(9))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, Kind(0).Valid())
	assert.Equal(t, "resource", KindResource.String())
}

func TestBytecodeContext_Navigate(t *testing.T) {
	ctx, _ := newTestContext(t)
	bc := ctx.Bytecode()

	m, err := bc.Navigate("Lcom/app/Main;", "onCreate").At(1).Original()
	require.NoError(t, err)
	assert.Equal(t, "Lcom/app/Util;->init(I)V", m.Reference())

	p, ok := bc.FindClass("Lcom/app/Util;")
	require.True(t, ok)
	assert.False(t, p.Resolved())

	mm, err := bc.Navigate("Lcom/app/Main;", "onCreate").At(1).Mutable()
	require.NoError(t, err)
	assert.True(t, p.Resolved())
	assert.Same(t, p.Mutable().Methods[1], mm)
}

func TestBytecodeContext_NavigateErrors(t *testing.T) {
	ctx, _ := newTestContext(t)
	bc := ctx.Bytecode()

	tests := []struct {
		name string
		nav  *MethodNavigator
		want error
	}{
		{"missing class", bc.Navigate("Lnope;", "x"), classes.ErrClassNotFound},
		{"missing method", bc.Navigate("Lcom/app/Main;", "nope"), ErrMethodNotFound},
		{"not invoke", bc.Navigate("Lcom/app/Main;", "onCreate").At(0), ErrNotInvoke},
		{"out of range", bc.Navigate("Lcom/app/Main;", "onCreate").At(7), classes.ErrIndexOutOfRange},
		{"unknown target", bc.Navigate("Lcom/app/Main;", "onCreate").At(1, 0), classes.ErrClassNotFound},
		{"sticky", bc.Navigate("Lnope;", "x").At(0, 1, 2), classes.ErrClassNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.nav.Original()
			assert.ErrorIs(t, err, tt.want)
			_, err = tt.nav.Mutable()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResourceContext_Resolve(t *testing.T) {
	ctx, root := newTestContext(t)
	rc := ctx.Resource()
	assert.Equal(t, root, rc.Root())

	p, err := rc.Resolve("res/values/strings.xml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "res", "values", "strings.xml"), p)

	for _, bad := range []string{"../outside.xml", "/etc/passwd", "res/../../x", ""} {
		_, err := rc.Resolve(bad)
		assert.ErrorIs(t, err, ErrPathEscapesRoot, bad)
	}
}

func TestResourceContext_DocumentSharesSessions(t *testing.T) {
	ctx, root := newTestContext(t)
	rc := ctx.Resource()
	require.NoError(t, os.WriteFile(filepath.Join(root, "AndroidManifest.xml"), []byte(`<manifest/>`), 0o644))

	d1, err := rc.Document("AndroidManifest.xml")
	require.NoError(t, err)
	d2, err := rc.Document("AndroidManifest.xml")
	require.NoError(t, err)

	d2.Root().CreateAttr("package", "com.app.patched")
	require.NoError(t, d1.Close())
	require.NoError(t, d2.Close())

	data, err := os.ReadFile(filepath.Join(root, "AndroidManifest.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `package="com.app.patched"`)

	_, err = rc.Document("../escape.xml")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)
}
