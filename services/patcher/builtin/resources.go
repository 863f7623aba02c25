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
	"fmt"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/codec"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
)

const (
	stringsDocument = "res/values/strings.xml"

	// NameSuffix is appended to the application label.
	NameSuffix = " (patched)"
)

func manifestDebuggable() patch.Patch {
	return patch.Resource(ManifestDebuggable, nil, setDebuggable).
		WithDescription("Marks the application debuggable in the manifest")
}

func legacyDebuggable() patch.Patch {
	return patch.Resource(LegacyDebuggable, nil, setDebuggable).
		WithDescription("Marks the application debuggable").
		WithDeprecation("superseded", ManifestDebuggable)
}

func setDebuggable(_ context.Context, rc *pkgctx.ResourceContext) (err error) {
	doc, err := rc.Document(codec.ManifestEntry)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := doc.Close(); err == nil {
			err = cerr
		}
	}()

	app := doc.Root().SelectElement("application")
	if app == nil {
		return fmt.Errorf("%s: <application>: %w", codec.ManifestEntry, ErrElementNotFound)
	}
	app.CreateAttr("android:debuggable", "true")
	return nil
}

func appNameSuffix() patch.Patch {
	return patch.Resource(AppNameSuffix, nil, func(_ context.Context, rc *pkgctx.ResourceContext) (err error) {
		doc, err := rc.Document(stringsDocument)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := doc.Close(); err == nil {
				err = cerr
			}
		}()

		name := doc.Root().FindElement("string[@name='app_name']")
		if name == nil {
			return fmt.Errorf("%s: app_name: %w", stringsDocument, ErrElementNotFound)
		}
		name.SetText(name.Text() + NameSuffix)
		return nil
	}).WithDescription("Appends a suffix to the application name")
}
