// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

// PatcherConfig is the contents of patcher.yaml.
type PatcherConfig struct {
	// Input and Output are default archive paths; the patch command's
	// arguments override them.
	Input  string `yaml:"input,omitempty"`
	Output string `yaml:"output,omitempty"`

	// WorkDir receives decoded resources. Empty uses a temporary directory.
	WorkDir string `yaml:"work_dir,omitempty"`

	Patches   PatchesConfig   `yaml:"patches"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	History   HistoryConfig   `yaml:"history"`
}

type PatchesConfig struct {
	Include             []string `yaml:"include,omitempty" validate:"dive,required"`
	Exclude             []string `yaml:"exclude,omitempty" validate:"dive,required"`
	IgnoreCompatibility bool     `yaml:"ignore_compatibility"`
}

type ExecutionConfig struct {
	StopOnFirstError bool `yaml:"stop_on_first_error"`
	Locking          bool `yaml:"locking"`
	Concurrency      int  `yaml:"concurrency" validate:"gte=0,lte=256"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"loglevel"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
}

type TelemetryConfig struct {
	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`

	// MetricExporter is "none", "stdout" or "prometheus".
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`

	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`

	// MetricsAddr serves /metrics when the prometheus exporter is active.
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() PatcherConfig {
	return PatcherConfig{
		Execution: ExecutionConfig{
			Locking: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(baseDir(), "history"),
		},
	}
}

// DefaultPath returns ~/.aleutian/patcher.yaml, or ./patcher.yaml when
// the home directory is unknown.
func DefaultPath() string {
	return filepath.Join(baseDir(), "patcher.yaml")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".aleutian")
}
