// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"time"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/resource"
)

// PatchOutcome is one patch's result in a run.
type PatchOutcome struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// RunReport summarizes one patch run.
type RunReport struct {
	ID          string               `json:"id"`
	Input       string               `json:"input"`
	Output      string               `json:"output,omitempty"`
	PackageName string               `json:"package_name,omitempty"`
	VersionName string               `json:"version_name,omitempty"`
	Started     time.Time            `json:"started"`
	Duration    time.Duration        `json:"duration_ns"`
	Patches     []PatchOutcome       `json:"patches"`
	WriteBacks  []resource.WriteBack `json:"write_backs,omitempty"`
}

// Failed returns the number of patches that did not succeed.
func (r *RunReport) Failed() int {
	n := 0
	for _, p := range r.Patches {
		if p.Error != "" {
			n++
		}
	}
	return n
}
