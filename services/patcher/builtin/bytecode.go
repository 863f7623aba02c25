// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builtin

import (
	"context"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/fingerprint"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

// signatureCheckBypass makes the package's signature verifier always
// report success.
func signatureCheckBypass() patch.Patch {
	fp := &fingerprint.Fingerprint{
		Name:       "signature-verifier",
		ReturnType: "Z",
		Strings:    []string{"SHA-256"},
	}
	return patch.Bytecode(SignatureCheckBypass, nil, func(_ context.Context, _ *pkgctx.BytecodeContext) error {
		return replaceBody(fp, `
			const/4 v0, 0x1
			return v0
		`)
	}).
		WithDescription("Makes signature verification always succeed").
		WithFingerprints(fp)
}

// disableAnalytics stubs out the analytics initializer.
func disableAnalytics() patch.Patch {
	fp := &fingerprint.Fingerprint{
		Name:       "analytics-init",
		ReturnType: "V",
		Strings:    []string{"analytics_collection_enabled"},
	}
	deps := []string{SignatureCheckBypass, AppNameSuffix}
	return patch.Bytecode(DisableAnalytics, deps, func(_ context.Context, _ *pkgctx.BytecodeContext) error {
		return replaceBody(fp, "return-void")
	}).
		WithDescription("Turns analytics initialization into a no-op").
		WithFingerprints(fp)
}

// replaceBody swaps the body of the method fp resolved to.
func replaceBody(fp *fingerprint.Fingerprint, body string) error {
	match, err := fp.ResultOrError()
	if err != nil {
		return err
	}
	ins, err := classes.ParseInstructions(body)
	if err != nil {
		return err
	}
	m := match.MutableMethod()
	m.ReplaceBody(ins)
	m.Registers = max(m.Registers, 1)
	return nil
}
