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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianPatcher/cmd/patcher/config"
	"github.com/AleutianAI/AleutianPatcher/pkg/logging"
	"github.com/AleutianAI/AleutianPatcher/pkg/ux"
	"github.com/AleutianAI/AleutianPatcher/services/patcher/telemetry"
)

// app holds state shared by all commands for one invocation.
type app struct {
	// Global flags.
	configPath string
	logLevel   string
	jsonLogs   bool
	plain      bool

	stdout io.Writer
	stderr io.Writer

	cfg     config.PatcherConfig
	logger  *logging.Logger
	out     *ux.Printer
	metrics *telemetry.Metrics

	shutdownTelemetry func(context.Context) error
	stopMetrics       func(context.Context) error
}

// execute runs the CLI with args and releases everything the run set up.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "patcher",
		Short:        "Apply patches to package archives",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				a.out = ux.NewPrinter(a.stdout)
				return nil
			}
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath(), "path to patcher.yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")
	flags.BoolVar(&a.plain, "plain", false, "disable styled output")

	root.AddCommand(
		a.patchCmd(),
		a.listCmd(),
		a.historyCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads config and starts logging and telemetry.
func (a *app) setup(ctx context.Context) error {
	if a.plain {
		a.out = ux.NewPlainPrinter(a.stdout)
	} else {
		a.out = ux.NewPrinter(a.stdout)
	}

	cfg, created, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if created {
		a.out.Info(fmt.Sprintf("First run detected, created the config at %s", a.configPath))
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "patcher",
		JSON:    cfg.Logging.JSON,
		Writer:  a.stderr,
	})

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.Output = a.stderr
	a.shutdownTelemetry, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	a.metrics, err = telemetry.NewMetrics(otel.Meter("aleutian.patcher"))
	if err != nil {
		return err
	}

	if cfg.Telemetry.MetricExporter == "prometheus" && cfg.Telemetry.MetricsAddr != "" {
		stop, addr, err := telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr, a.logger.Slog())
		if err != nil {
			return err
		}
		a.stopMetrics = stop
		a.logger.Info("serving metrics", "addr", addr)
	}
	return nil
}

// close flushes telemetry and closes the logger.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.stopMetrics != nil {
		errs = append(errs, a.stopMetrics(ctx))
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patcher %s\n", Version)
		},
	}
}
