// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

func mustParse(t *testing.T, text string) []classes.Instruction {
	t.Helper()
	ins, err := classes.ParseInstructions(text)
	require.NoError(t, err)
	return ins
}

func testSet(t *testing.T) *classes.ClassSet {
	t.Helper()
	records := []*classes.ClassRecord{
		{
			Type: "Lcom/app/a;",
			Methods: []*classes.Method{
				{
					DefiningClass: "Lcom/app/a;",
					Name:          "a",
					ReturnType:    "V",
					AccessFlags:   classes.AccessPublic,
					Instructions:  mustParse(t, "return-void"),
				},
			},
		},
		{
			Type: "Lcom/app/b;",
			Methods: []*classes.Method{
				{
					DefiningClass: "Lcom/app/b;",
					Name:          "c",
					Parameters:    []string{"Landroid/content/Context;", "I"},
					ReturnType:    "Z",
					AccessFlags:   classes.AccessPublic | classes.AccessStatic,
					Instructions: mustParse(t, `
						const-string v0, "SHA-256"
						invoke-static {v0}, Ljava/security/MessageDigest;->getInstance(Ljava/lang/String;)Ljava/security/MessageDigest;
						move-result-object v0
						const-string v1, "expected"
						const/4 v0, 0x0
						return v0
					`),
				},
			},
		},
	}
	set, err := classes.NewClassSet(records)
	require.NoError(t, err)
	return set
}

func TestLocator_Resolve(t *testing.T) {
	set := testSet(t)
	fp := &Fingerprint{
		Name:        "signature",
		ReturnType:  "Z",
		AccessFlags: classes.AccessStatic,
		Parameters:  []string{"Landroid/content/", "I"},
		Opcodes:     []string{"invoke-static", Wildcard, "const-string"},
		Strings:     []string{"expected", "SHA-256"},
	}

	n := NewLocator(nil).Resolve(set, fp)
	require.Equal(t, 1, n)

	m, err := fp.ResultOrError()
	require.NoError(t, err)
	assert.Equal(t, "Lcom/app/b;", m.Class().Type)
	assert.Equal(t, 0, m.MethodIndex)
	assert.Equal(t, 1, m.PatternStart)
	assert.Equal(t, 4, m.PatternEnd)
	assert.Equal(t, map[string]int{"SHA-256": 0, "expected": 3}, m.StringIndices)
	assert.False(t, m.Proxy.Resolved())

	proxy, ok := set.FindByType("Lcom/app/b;")
	require.True(t, ok)
	assert.Same(t, proxy, m.Proxy)

	mm := m.MutableMethod()
	assert.True(t, m.Proxy.Resolved())
	assert.Same(t, mm, m.Method())
}

func TestLocator_Unresolved(t *testing.T) {
	set := testSet(t)
	tests := []struct {
		name string
		fp   *Fingerprint
	}{
		{"return type", &Fingerprint{Name: "x", ReturnType: "J"}},
		{"param count", &Fingerprint{Name: "x", ReturnType: "Z", Parameters: []string{"L"}}},
		{"opcodes", &Fingerprint{Name: "x", Opcodes: []string{"goto"}}},
		{"strings", &Fingerprint{Name: "x", Strings: []string{"missing"}}},
		{"class type", &Fingerprint{Name: "x", ClassType: "Lother;"}},
		{"custom", &Fingerprint{Name: "x", Custom: func(*classes.ClassRecord, *classes.Method) bool { return false }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0, NewLocator(nil).Resolve(set, tt.fp))
			assert.Nil(t, tt.fp.Result())
			_, err := tt.fp.ResultOrError()
			assert.ErrorIs(t, err, ErrFingerprintNotResolved)
		})
	}
	assert.Empty(t, set.Pending(), "no proxies for unmatched classes")
}

func TestLocator_ResolveClearsPrevious(t *testing.T) {
	set := testSet(t)
	fp := &Fingerprint{Name: "void", ReturnType: "V"}
	require.Equal(t, 1, NewLocator(nil).Resolve(set, fp))
	require.NotNil(t, fp.Result())

	empty, err := classes.NewClassSet(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, NewLocator(nil).Resolve(empty, fp))
	assert.Nil(t, fp.Result())
}

func TestLocator_SeesResolvedCopy(t *testing.T) {
	set := testSet(t)
	p, _ := set.FindByType("Lcom/app/a;")
	require.NoError(t, p.Mutable().Methods[0].AddInstructions(0, classes.Instruction{Opcode: "nop"}))

	fp := &Fingerprint{Name: "nop", Opcodes: []string{"nop", "return-void"}}
	require.Equal(t, 1, NewLocator(nil).Resolve(set, fp))
	assert.Same(t, p, fp.Result().Proxy)
}
