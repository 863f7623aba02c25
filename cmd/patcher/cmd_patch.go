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
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPatcher/services/patcher"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/builtin"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/history"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
)

// errPatchesFailed makes the process exit non-zero after a run in which
// some patches failed. The output is still written.
var errPatchesFailed = errors.New("some patches failed")

type patchFlags struct {
	output              string
	workDir             string
	include             []string
	exclude             []string
	ignoreCompatibility bool
	stopOnFirstError    bool
	diff                bool
}

func (a *app) patchCmd() *cobra.Command {
	var f patchFlags
	cmd := &cobra.Command{
		Use:   "patch [input]",
		Short: "Apply patches to a package archive",
		Long: `Apply the selected patches to a package archive and write the result.

With no --include every compatible built-in patch runs. Dependencies of
selected patches always run, even when excluded.`,
		Example: `  patcher patch app.apkx -o app-patched.apkx
  patcher patch app.apkx --include disable-analytics --diff`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPatch(cmd, args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "output archive (default <input>-patched<ext>)")
	flags.StringVar(&f.workDir, "work-dir", "", "directory for decoded resources")
	flags.StringSliceVarP(&f.include, "include", "i", nil, "patches to run")
	flags.StringSliceVarP(&f.exclude, "exclude", "e", nil, "patches to leave out")
	flags.BoolVar(&f.ignoreCompatibility, "ignore-compatibility", false, "run patches not marked compatible with the package")
	flags.BoolVar(&f.stopOnFirstError, "stop-on-first-error", false, "stop after the first failing patch")
	flags.BoolVar(&f.diff, "diff", false, "print a diff of every document written")
	return cmd
}

func (a *app) runPatch(cmd *cobra.Command, args []string, f patchFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	input := cfg.Input
	if len(args) == 1 {
		input = args[0]
	}
	if input == "" {
		return errors.New("no input archive given")
	}
	output := firstNonEmpty(f.output, cfg.Output, defaultOutput(input))

	sel := patch.Selection{
		Include:             cfg.Patches.Include,
		Exclude:             cfg.Patches.Exclude,
		IgnoreCompatibility: cfg.Patches.IgnoreCompatibility || f.ignoreCompatibility,
	}
	if cmd.Flags().Changed("include") {
		sel.Include = f.include
	}
	if cmd.Flags().Changed("exclude") {
		sel.Exclude = f.exclude
	}

	p, err := patcher.Open(ctx, input, patcher.Options{
		Logger:           a.logger.Slog(),
		WorkDir:          firstNonEmpty(f.workDir, cfg.WorkDir),
		Locking:          cfg.Execution.Locking,
		StopOnFirstError: cfg.Execution.StopOnFirstError || f.stopOnFirstError,
		Concurrency:      cfg.Execution.Concurrency,
		Metrics:          a.metrics,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := builtin.Register(p.Registry()); err != nil {
		return err
	}

	info := p.Package()
	a.out.Title("Patching " + info.Name)
	a.out.Box("Package", fmt.Sprintf("%s %s (%d)", info.Name, info.VersionName, info.VersionCode))

	succeeded, failed := 0, 0
	last := time.Now()
	for name, err := range p.Execute(ctx, sel) {
		if name == "" {
			return err
		}
		a.out.PatchResult(name, err, time.Since(last))
		last = time.Now()
		if err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	skipped := 0
	if plan := p.Plan(); plan != nil {
		skipped = len(plan.Skipped)
		for _, name := range plan.Skipped {
			a.out.Warning(fmt.Sprintf("%s skipped: not compatible with %s %s", name, info.Name, info.VersionName))
		}
	}

	if err := p.Save(ctx, output); err != nil {
		return err
	}

	if f.diff {
		for _, wb := range p.WriteBacks() {
			if !wb.Changed() {
				continue
			}
			a.out.Diff(relPath(p.WorkDir(), wb.Path), wb.Diff())
		}
	}

	a.out.Summary(succeeded, failed, skipped)
	a.out.Success("Wrote " + output)

	if cfg.History.Enabled {
		if err := a.saveHistory(cmd, p.Report()); err != nil {
			a.out.Warning("Could not record run history: " + err.Error())
		}
	}

	if failed > 0 {
		return errPatchesFailed
	}
	return nil
}

func (a *app) saveHistory(cmd *cobra.Command, report *history.RunReport) error {
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(cmd.Context(), report)
}

func (a *app) openHistory() (*history.Store, error) {
	hcfg := history.DefaultConfig(a.cfg.History.Path)
	hcfg.Logger = a.logger.Slog()
	hcfg.GCInterval = 0
	return history.Open(hcfg)
}

// defaultOutput returns input with "-patched" before its extension.
func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "-patched" + ext
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
