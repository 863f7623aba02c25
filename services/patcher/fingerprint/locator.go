// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fingerprint

import (
	"log/slog"

	"github.com/AleutianAI/AleutianPatcher/services/patcher/classes"
)

// Locator resolves fingerprints against a class set.
type Locator struct {
	logger *slog.Logger
}

// NewLocator creates a locator. A nil logger uses slog.Default().
func NewLocator(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{logger: logger}
}

// Resolve matches every fingerprint against the current records of set.
//
// Description:
//
//	Previous results are cleared first. Each fingerprint resolves to the
//	first matching method in class order; a proxy is only obtained for
//	classes that actually match. Unmatched fingerprints are not an error
//	here: the patch decides via ResultOrError.
//
// Outputs:
//
//	int - Number of fingerprints resolved.
func (l *Locator) Resolve(set *classes.ClassSet, fps ...*Fingerprint) int {
	resolved := 0
	for _, fp := range fps {
		fp.result = nil
	search:
		for r := range set.All() {
			if fp.ClassType != "" && r.Type != fp.ClassType {
				continue
			}
			for i, m := range r.Methods {
				start, end, hits, ok := fp.matches(r, m)
				if !ok {
					continue
				}
				proxy, err := set.Proxy(r)
				if err != nil {
					l.logger.Warn("fingerprint matched class missing from set",
						slog.String("fingerprint", fp.Name),
						slog.String("class", r.Type),
						slog.String("error", err.Error()))
					continue
				}
				fp.result = &Match{
					Proxy:         proxy,
					MethodIndex:   i,
					PatternStart:  start,
					PatternEnd:    end,
					StringIndices: hits,
				}
				break search
			}
		}
		if fp.result != nil {
			resolved++
			l.logger.Debug("fingerprint resolved",
				slog.String("fingerprint", fp.Name),
				slog.String("method", fp.result.Method().Reference()))
		} else {
			l.logger.Debug("fingerprint unresolved", slog.String("fingerprint", fp.Name))
		}
	}
	return resolved
}
