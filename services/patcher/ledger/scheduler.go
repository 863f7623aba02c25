// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/fingerprint"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/patch"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/pkgctx"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
)

var (
	tracer = otel.Tracer("aleutian.patcher")
	meter  = otel.Meter("aleutian.patcher")
)

// Resolver finds patches referenced as dependencies.
type Resolver interface {
	Lookup(name string) (patch.Patch, bool)
}

// Locator resolves a bytecode patch's fingerprints before it executes.
type Locator interface {
	Resolve(set *classes.ClassSet, fps ...*fingerprint.Fingerprint) int
}

// Config configures a Scheduler.
type Config struct {
	// Patches are the top-level patches, run in order.
	Patches []patch.Patch

	// Resolver finds dependencies. Nil resolves only among Patches.
	Resolver Resolver

	// Context is handed to every patch. Required.
	Context *pkgctx.Context

	// Locator resolves fingerprints. Nil uses fingerprint.NewLocator.
	Locator Locator

	// Sessions is reset after teardown when set.
	Sessions *resource.SessionRegistry

	// StopOnFirstError ends the sequence after the first failing pair.
	StopOnFirstError bool

	// RunID labels logs and spans. Empty generates one.
	RunID string

	// Logger for execution logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// Scheduler runs patches in dependency order through a Ledger it owns.
//
// Description:
//
//	Each patch executes at most once per Scheduler. Dependencies complete
//	before their dependents begin. A failed dependency prevents its
//	dependents from executing. All instances are closed in reverse
//	creation order once the sequence returned by Run ends, however it ends.
//
// Thread Safety:
//
//	Scheduler is NOT safe for concurrent use. Execution is sequential by
//	design: patches share the class set and document sessions.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	runID  string

	ledger *Ledger
	stack  []string
	ran    bool

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	patchLatency  metric.Float64Histogram
	patchSuccess  metric.Int64Counter
	patchFailures metric.Int64Counter
	closeFailures metric.Int64Counter
	runLatency    metric.Float64Histogram
}

// NewScheduler creates a scheduler.
//
// Outputs:
//
//	*Scheduler - The scheduler, good for one Run.
//	error - ErrInvalidInput if cfg.Context is nil or a patch is nil.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Context == nil {
		return nil, fmt.Errorf("%w: context must not be nil", ErrInvalidInput)
	}
	if slices.Contains(cfg.Patches, nil) {
		return nil, fmt.Errorf("%w: nil patch", ErrInvalidInput)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()[:12]
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locator == nil {
		cfg.Locator = fingerprint.NewLocator(cfg.Logger)
	}
	return &Scheduler{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("run_id", cfg.RunID)),
		runID:  cfg.RunID,
		ledger: newLedger(),
	}, nil
}

// RunID returns the run identifier.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Ledger returns the scheduler's ledger. Callers must not retain it past
// the run or use it concurrently with Run.
func (s *Scheduler) Ledger() *Ledger {
	return s.ledger
}

// Records returns snapshots of all execution records in creation order.
func (s *Scheduler) Records() []Record {
	return s.ledger.Snapshot()
}

func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.patchLatency, err = meter.Float64Histogram("patcher_patch_duration_seconds",
			metric.WithDescription("Time spent executing each patch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "patch_latency: "+err.Error())
		}

		s.patchSuccess, err = meter.Int64Counter("patcher_patch_success_total",
			metric.WithDescription("Number of successful patch executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "patch_success: "+err.Error())
		}

		s.patchFailures, err = meter.Int64Counter("patcher_patch_failure_total",
			metric.WithDescription("Number of failed patch executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "patch_failures: "+err.Error())
		}

		s.closeFailures, err = meter.Int64Counter("patcher_teardown_failure_total",
			metric.WithDescription("Number of patch instances that failed to close"),
		)
		if err != nil {
			initErrors = append(initErrors, "close_failures: "+err.Error())
		}

		s.runLatency, err = meter.Float64Histogram("patcher_run_duration_seconds",
			metric.WithDescription("Total run time including teardown"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some patcher metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes every top-level patch, yielding one (name, error) pair per
// patch as it completes.
//
// Description:
//
//	The sequence is lazy: nothing runs until it is ranged over. With
//	StopOnFirstError the sequence ends after the first pair with a non-nil
//	error. Context cancellation is checked only between top-level patches;
//	a cancelled run ends the sequence without running further patches.
//	Teardown runs when the sequence ends, whether it was consumed fully,
//	stopped early by the caller or stopped by an error.
//
//	A Scheduler runs once. Ranging over Run a second time yields a single
//	pair carrying ErrAlreadyRun.
//
// Example:
//
//	for name, err := range sched.Run(ctx) {
//	    if err != nil {
//	        log.Printf("%s: %v", name, err)
//	    }
//	}
func (s *Scheduler) Run(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.ran {
			yield("", ErrAlreadyRun)
			return
		}
		s.ran = true
		s.initMetrics()

		ctx, span := tracer.Start(ctx, "patcher.Run",
			trace.WithAttributes(
				attribute.String("run_id", s.runID),
				attribute.Int("patch_count", len(s.cfg.Patches)),
			),
		)
		start := time.Now()
		failed := 0
		defer func() {
			s.teardown(ctx)
			if s.runLatency != nil {
				s.runLatency.Record(ctx, time.Since(start).Seconds())
			}
			if failed > 0 {
				span.SetStatus(codes.Error, fmt.Sprintf("%d patches failed", failed))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()

		s.logger.Info("patch run started", slog.Int("patches", len(s.cfg.Patches)))

		for _, p := range s.cfg.Patches {
			if err := ctx.Err(); err != nil {
				s.logger.Warn("patch run cancelled",
					slog.String("next_patch", p.Name()),
					slog.String("error", err.Error()))
				span.RecordError(err)
				return
			}

			err := s.run(ctx, p, "")
			if err != nil {
				failed++
			}
			if !yield(p.Name(), err) {
				return
			}
			if err != nil && s.cfg.StopOnFirstError {
				s.logger.Info("stopping after first failure", slog.String("patch", p.Name()))
				return
			}
		}
	}
}

// lookup resolves a dependency name.
func (s *Scheduler) lookup(name string) (patch.Patch, bool) {
	if s.cfg.Resolver != nil {
		if p, ok := s.cfg.Resolver.Lookup(name); ok {
			return p, true
		}
	}
	for _, p := range s.cfg.Patches {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// run executes p after its dependencies. dependent names the patch that
// required p, or is empty at top level.
func (s *Scheduler) run(ctx context.Context, p patch.Patch, dependent string) error {
	name := p.Name()

	if rec, ok := s.ledger.Get(name); ok {
		if rec.Err == nil {
			return nil
		}
		return &AlreadyFailedError{Patch: name, Dependent: dependent, Err: rec.Err}
	}

	if i := slices.Index(s.stack, name); i >= 0 {
		path := append(slices.Clone(s.stack[i:]), name)
		return &CycleError{Path: path}
	}
	s.stack = append(s.stack, name)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	for _, depName := range p.Dependencies() {
		dep, ok := s.lookup(depName)
		if !ok {
			return &DependencyFailedError{
				Patch:      name,
				Dependency: depName,
				Err:        fmt.Errorf("%w: %s", ErrUnknownPatch, depName),
			}
		}
		if err := s.run(ctx, dep, name); err != nil {
			s.logger.Warn("skipping patch, dependency failed",
				slog.String("patch", name),
				slog.String("dependency", depName))
			return &DependencyFailedError{Patch: name, Dependency: depName, Err: err}
		}
	}

	rec := s.execute(ctx, p)
	s.ledger.add(rec)
	return rec.Err
}

// execute instantiates and runs one patch, converting errors and panics.
func (s *Scheduler) execute(ctx context.Context, p patch.Patch) (rec *Record) {
	name := p.Name()
	ctx, span := tracer.Start(ctx, "patcher.Patch",
		trace.WithAttributes(
			attribute.String("patch", name),
			attribute.String("kind", p.Kind().String()),
		),
	)
	defer span.End()

	rec = &Record{Patch: name, Started: time.Now()}
	logger := s.logger.With(slog.String("patch", name))
	logger.Debug("executing patch", slog.String("kind", p.Kind().String()))

	defer func() {
		if r := recover(); r != nil {
			rec.Err = &PatchCrashedError{Patch: name, Value: r, Stack: debug.Stack()}
		}
		rec.Duration = time.Since(rec.Started)
		s.recordOutcome(ctx, span, logger, rec)
	}()

	inst, err := p.New()
	if err != nil {
		rec.Err = &PatchError{Patch: name, Err: err}
		return rec
	}
	rec.Instance = inst

	view, err := s.cfg.Context.View(p.Kind())
	if err != nil {
		rec.Err = &PatchError{Patch: name, Err: err}
		return rec
	}

	if fps := p.Fingerprints(); p.Kind() == pkgctx.KindBytecode && len(fps) > 0 {
		n := s.cfg.Locator.Resolve(s.cfg.Context.Bytecode().Classes(), fps...)
		span.SetAttributes(attribute.Int("fingerprints_resolved", n))
	}

	if err := inst.Execute(ctx, view); err != nil {
		rec.Err = &PatchError{Patch: name, Err: err}
	}
	return rec
}

func (s *Scheduler) recordOutcome(ctx context.Context, span trace.Span, logger *slog.Logger, rec *Record) {
	attrs := metric.WithAttributes(attribute.String("patch", rec.Patch))
	if s.patchLatency != nil {
		s.patchLatency.Record(ctx, rec.Duration.Seconds(), attrs)
	}

	if rec.Err != nil {
		if s.patchFailures != nil {
			s.patchFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
		logger.Error("patch failed",
			slog.Duration("duration", rec.Duration),
			slog.String("error", rec.Err.Error()))
		return
	}

	if s.patchSuccess != nil {
		s.patchSuccess.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("patch succeeded", slog.Duration("duration", rec.Duration))
}

// teardown closes instances newest first and resets document sessions.
func (s *Scheduler) teardown(ctx context.Context) {
	for _, rec := range s.ledger.reverse() {
		closer, ok := rec.Instance.(io.Closer)
		if !ok {
			continue
		}
		if err := closeInstance(closer); err != nil {
			if s.closeFailures != nil {
				s.closeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("patch", rec.Patch)))
			}
			s.logger.Error("failed to close patch",
				slog.String("patch", rec.Patch),
				slog.String("error", err.Error()))
		}
	}
	if s.cfg.Sessions != nil {
		s.cfg.Sessions.Reset()
	}
	s.logger.Info("patch run finished", slog.Int("executed", s.ledger.Len()))
}

func closeInstance(c io.Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return c.Close()
}
