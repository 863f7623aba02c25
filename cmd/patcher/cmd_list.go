// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/builtin"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available patches",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			reg := patch.NewRegistry(a.logger.Slog())
			if err := builtin.Register(reg); err != nil {
				return err
			}

			var rows [][]string
			for _, p := range reg.All() {
				desc := p.Description()
				if d := p.Deprecation(); d != nil {
					desc += " [deprecated: " + d.String() + "]"
				}
				rows = append(rows, []string{
					p.Name(),
					p.Kind().String(),
					strings.Join(p.Dependencies(), ","),
					compatibility(p),
					desc,
				})
			}
			a.out.Table([]string{"NAME", "KIND", "DEPENDS", "COMPATIBLE", "DESCRIPTION"}, rows)
			return nil
		},
	}
}

func compatibility(p patch.Patch) string {
	compat := p.Compatibility()
	if len(compat) == 0 {
		return "any"
	}
	parts := make([]string, len(compat))
	for i, c := range compat {
		parts[i] = c.Package
		if len(c.Versions) > 0 {
			parts[i] += "@" + strings.Join(c.Versions, "|")
		}
	}
	return strings.Join(parts, ",")
}
