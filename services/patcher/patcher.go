// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patcher drives a patch run over one package archive.
//
// A run opens the archive, decodes its class container and resources,
// executes the selected patches through a ledger scheduler, and saves the
// modified package to a new archive:
//
//	p, err := patcher.Open(ctx, "app.apkx", patcher.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	builtin.Register(p.Registry())
//	for name, err := range p.Execute(ctx, patch.Selection{}) {
//	    ...
//	}
//	err = p.Save(ctx, "app-patched.apkx")
package patcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/codec"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/fingerprint"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/history"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/ledger"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/lock"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/telemetry"
)

const tracerName = "aleutian.patcher.driver"

// Options configures a Patcher.
type Options struct {
	// Logger for driver and scheduler logs. Nil uses slog.Default().
	Logger *slog.Logger

	// WorkDir receives decoded resources. Empty creates a temporary
	// directory that Close removes.
	WorkDir string

	// Registry is the patch catalogue. Nil creates an empty one.
	Registry *patch.Registry

	// Locking takes advisory locks on documents while they are open and
	// watches them for external changes.
	Locking bool

	// StopOnFirstError ends execution after the first failing patch.
	StopOnFirstError bool

	// Concurrency bounds parallel resource extraction. Zero uses the
	// codec default.
	Concurrency int

	// Metrics records driver instruments. Nil disables them.
	Metrics *telemetry.Metrics
}

// Patcher owns one package for the length of a run.
//
// Description:
//
//	Open decodes the class container eagerly and the resources in
//	manifest-only mode. Execute upgrades to a full resource decode when
//	the selected plan includes a resource patch. Save finalizes modified
//	classes and rebuilds the archive.
//
// Thread Safety:
//
//	Patcher is NOT safe for concurrent use.
type Patcher struct {
	opts     Options
	logger   *slog.Logger
	runID    string
	input    string
	workDir  string
	ownsWork bool

	archive  *codec.Archive
	bytecode *codec.CBORCodec
	res      *codec.DirCodec
	opcodes  codec.Opcodes
	meta     *codec.Metadata
	set      *classes.ClassSet
	registry *patch.Registry
	locks    *lock.Manager
	sessions *resource.SessionRegistry

	plan     *patch.Plan
	sched    *ledger.Scheduler
	yielded  []outcome
	executed bool
	closed   bool

	started  time.Time
	finished time.Time
	output   string
}

type outcome struct {
	name string
	err  error
}

// Open reads and decodes the package at input.
//
// Outputs:
//
//	*Patcher - Ready for Register and Execute. The caller must Close it.
//	error - ErrEmptyPath, an archive or container decode error, or
//	codec.ErrMissingEntry when classes.bin or manifest.xml is absent.
func Open(ctx context.Context, input string, opts Options) (_ *Patcher, err error) {
	if input == "" {
		return nil, ErrEmptyPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = patch.NewRegistry(opts.Logger)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "patcher.Open",
		trace.WithAttributes(attribute.String("input", input)))
	defer span.End()

	runID := uuid.NewString()[:12]
	p := &Patcher{
		opts:     opts,
		logger:   opts.Logger.With(slog.String("run_id", runID)),
		runID:    runID,
		input:    input,
		registry: opts.Registry,
		res:      codec.NewDirCodec(opts.Logger, opts.Concurrency),
		started:  time.Now(),
	}
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			_ = p.Close()
		}
	}()

	p.bytecode, err = codec.NewCBORCodec()
	if err != nil {
		return nil, err
	}
	if err := p.prepareWorkDir(); err != nil {
		return nil, err
	}

	p.archive, err = codec.ReadArchive(input)
	if err != nil {
		return nil, err
	}
	data, ok := p.archive.Get(codec.ClassesEntry)
	if !ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrMissingEntry, codec.ClassesEntry)
	}
	records, opcodes, err := p.bytecode.ReadContainer(data)
	if err != nil {
		return nil, err
	}
	p.opcodes = opcodes
	p.set, err = classes.NewClassSet(records)
	if err != nil {
		return nil, fmt.Errorf("load classes: %w", err)
	}

	if err := p.decodeResources(ctx, codec.ModeManifestOnly); err != nil {
		return nil, err
	}

	if opts.Locking {
		p.locks, err = lock.NewManager(p.logger)
		if err != nil {
			return nil, err
		}
	}
	p.sessions = resource.NewSessionRegistry(p.logger, p.locks)

	span.SetAttributes(
		attribute.String("package", p.meta.PackageName),
		attribute.Int("classes", p.set.Len()),
	)
	p.logger.Info("package opened",
		slog.String("input", input),
		slog.String("package", p.meta.PackageName),
		slog.String("version", p.meta.VersionName),
		slog.Int("classes", p.set.Len()))
	return p, nil
}

func (p *Patcher) prepareWorkDir() error {
	if p.opts.WorkDir == "" {
		dir, err := os.MkdirTemp("", "patcher-*")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		p.workDir, p.ownsWork = dir, true
		return nil
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	p.workDir = p.opts.WorkDir
	return nil
}

func (p *Patcher) decodeResources(ctx context.Context, mode codec.Mode) error {
	meta, err := p.res.Decode(ctx, p.archive, mode, p.workDir)
	if err != nil {
		return fmt.Errorf("decode resources: %w", err)
	}
	p.meta = meta
	if m := p.opts.Metrics; m != nil {
		m.PackagesOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
	}
	return nil
}

// RunID returns the identifier shared by this run's logs, spans and
// history record.
func (p *Patcher) RunID() string {
	return p.runID
}

// Registry returns the patch catalogue.
func (p *Patcher) Registry() *patch.Registry {
	return p.registry
}

// Package returns the identity read from the manifest.
func (p *Patcher) Package() pkgctx.PackageInfo {
	return pkgctx.PackageInfo{
		Name:        p.meta.PackageName,
		VersionName: p.meta.VersionName,
		VersionCode: p.meta.VersionCode,
	}
}

// Classes returns the live class set.
func (p *Patcher) Classes() *classes.ClassSet {
	return p.set
}

// WorkDir returns the directory holding decoded resources.
func (p *Patcher) WorkDir() string {
	return p.workDir
}

// Register adds patches to the catalogue.
func (p *Patcher) Register(patches ...patch.Patch) error {
	if p.closed {
		return ErrClosed
	}
	return p.registry.Register(patches...)
}

// Plan returns the plan chosen by Execute, or nil before Execute.
func (p *Patcher) Plan() *patch.Plan {
	return p.plan
}

// WriteBacks returns the document write-backs performed so far.
func (p *Patcher) WriteBacks() []resource.WriteBack {
	if p.sessions == nil {
		return nil
	}
	return p.sessions.WriteBacks()
}

// Execute selects patches and runs them.
//
// Description:
//
//	The selection is filtered against the package identity unless it
//	ignores compatibility. Each top-level patch yields its name and
//	outcome once; dependencies run first without being yielded. Patch
//	instances are closed and open document sessions reset when the
//	sequence ends, including when the caller stops early. Setup failures
//	yield a single pair with an empty name.
//
// Inputs:
//
//	ctx - Cancelling stops before the next top-level patch.
//	sel - Patches to run.
//
// Outputs:
//
//	iter.Seq2[string, error] - Single-use sequence of (patch, error).
func (p *Patcher) Execute(ctx context.Context, sel patch.Selection) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if p.closed {
			yield("", ErrClosed)
			return
		}
		if p.sched != nil {
			yield("", ErrAlreadyExecuted)
			return
		}

		sched, err := p.prepare(ctx, sel)
		if err != nil {
			yield("", err)
			return
		}
		p.sched = sched

		failed := 0
		defer func() {
			p.executed = true
			p.finished = time.Now()
			if m := p.opts.Metrics; m != nil {
				outcome := "ok"
				if failed > 0 {
					outcome = "failed"
				}
				m.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
			}
		}()

		for name, err := range sched.Run(ctx) {
			if err != nil {
				failed++
			}
			p.yielded = append(p.yielded, outcome{name: name, err: err})
			if !yield(name, err) {
				return
			}
		}
	}
}

func (p *Patcher) prepare(ctx context.Context, sel patch.Selection) (*ledger.Scheduler, error) {
	info := p.Package()
	sel.Package = &info
	plan, err := p.registry.Select(sel)
	if err != nil {
		return nil, err
	}
	p.plan = plan

	if plan.RequiresFullResources() && p.meta.Mode != codec.ModeFull {
		if err := p.decodeResources(ctx, codec.ModeFull); err != nil {
			return nil, err
		}
	}

	return ledger.NewScheduler(ledger.Config{
		Patches:          plan.Patches,
		Resolver:         p.registry,
		Context:          pkgctx.New(info, p.set, p.workDir, p.sessions),
		Locator:          fingerprint.NewLocator(p.logger),
		Sessions:         p.sessions,
		StopOnFirstError: p.opts.StopOnFirstError,
		RunID:            p.runID,
		Logger:           p.opts.Logger,
	})
}

// Save writes the patched package to output.
//
// Description:
//
//	Modified classes replace their originals, the class container is
//	re-encoded, decoded resources are written back into the archive and
//	the archive is written atomically. The input archive is untouched.
//
// Outputs:
//
//	error - ErrNotExecuted before the Execute sequence has ended,
//	ErrEmptyPath, or an encode or write error.
func (p *Patcher) Save(ctx context.Context, output string) (err error) {
	switch {
	case p.closed:
		return ErrClosed
	case !p.executed:
		return ErrNotExecuted
	case output == "":
		return ErrEmptyPath
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "patcher.Save",
		trace.WithAttributes(attribute.String("output", output)))
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		if m := p.opts.Metrics; m != nil {
			m.SaveDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	modified, err := p.set.Finalize()
	if err != nil {
		return fmt.Errorf("finalize classes: %w", err)
	}
	data, err := p.bytecode.WriteContainer(p.set.Records(), p.opcodes)
	if err != nil {
		return err
	}
	if err := p.archive.Set(codec.ClassesEntry, data); err != nil {
		return err
	}
	if err := p.res.Build(ctx, p.workDir, p.meta, p.archive); err != nil {
		return fmt.Errorf("build resources: %w", err)
	}
	if err := p.archive.WriteFile(output); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	p.output = output

	writeBacks := p.sessions.WriteBacks()
	if m := p.opts.Metrics; m != nil {
		m.ClassesModified.Add(ctx, int64(modified))
		m.WriteBacksTotal.Add(ctx, int64(len(writeBacks)))
	}
	span.SetAttributes(attribute.Int("classes_modified", modified))
	p.logger.Info("package saved",
		slog.String("output", output),
		slog.Int("classes_modified", modified),
		slog.Int("write_backs", len(writeBacks)),
		slog.Int64("external_changes", p.sessions.ExternalChanges()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Report summarizes the run for the history store.
//
// Description:
//
//	Every executed patch appears in execution order, dependencies
//	included. Top-level patches that never executed because a dependency
//	failed follow with status "skipped".
func (p *Patcher) Report() *history.RunReport {
	r := &history.RunReport{
		ID:      p.runID,
		Input:   p.input,
		Output:  p.output,
		Started: p.started,
	}
	if p.meta != nil {
		r.PackageName = p.meta.PackageName
		r.VersionName = p.meta.VersionName
	}
	if !p.finished.IsZero() {
		r.Duration = p.finished.Sub(p.started)
	}
	if p.sched != nil {
		executed := make(map[string]bool)
		for _, rec := range p.sched.Records() {
			executed[rec.Patch] = true
			out := history.PatchOutcome{
				Name:     rec.Patch,
				Status:   rec.Status().String(),
				Duration: rec.Duration,
			}
			if rec.Err != nil {
				out.Error = rec.Err.Error()
			}
			r.Patches = append(r.Patches, out)
		}
		for _, y := range p.yielded {
			if executed[y.name] || y.err == nil {
				continue
			}
			r.Patches = append(r.Patches, history.PatchOutcome{
				Name:   y.name,
				Status: "skipped",
				Error:  y.err.Error(),
			})
		}
	}
	r.WriteBacks = p.WriteBacks()
	return r
}

// Close releases locks and removes a temporary work directory. It is
// safe to call more than once.
func (p *Patcher) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.locks != nil {
		errs = append(errs, p.locks.Close())
	}
	if p.ownsWork && p.workDir != "" {
		errs = append(errs, os.RemoveAll(p.workDir))
	}
	return errors.Join(errs...)
}
