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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var errHistoryDisabled = errors.New("run history is disabled in the config")

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded patch runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.History.Enabled {
				return errHistoryDisabled
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID,
					r.Started.Format(time.RFC3339),
					r.PackageName,
					strconv.Itoa(len(r.Patches)),
					strconv.Itoa(r.Failed()),
				}
			}
			a.out.Table([]string{"ID", "STARTED", "PACKAGE", "PATCHES", "FAILED"}, rows)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 for all)")

	var diff bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.History.Enabled {
				return errHistoryDisabled
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			a.out.Box("Run "+r.ID, fmt.Sprintf("%s %s\n%s -> %s\n%s (%s)",
				r.PackageName, r.VersionName,
				r.Input, r.Output,
				r.Started.Format(time.RFC3339), r.Duration.Round(time.Millisecond)))
			for _, o := range r.Patches {
				var err error
				if o.Error != "" {
					err = fmt.Errorf("%s: %s", o.Status, o.Error)
				}
				a.out.PatchResult(o.Name, err, o.Duration)
			}
			if diff {
				for _, wb := range r.WriteBacks {
					if wb.Changed() {
						a.out.Diff(wb.Path, wb.Diff())
					}
				}
			}
			return nil
		},
	}
	show.Flags().BoolVar(&diff, "diff", false, "print the diff of every document written")

	cmd.AddCommand(list, show)
	return cmd
}
