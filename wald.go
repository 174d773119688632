// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// WaldTest fills in the Wald statistic and two-sided p-value for every
// converged gene. The null hypothesis is |true LFC| ≤ lfcThreshold, so with
// a nonzero threshold the statistic is the distance from the null boundary
// in standard-error units; an observed LFC inside the boundary scores 0
// and p = 1. Non-converged genes get NaN statistics and are never tested,
// whatever their input rows held.
func WaldTest(fits []GeneFitResult, lfcThreshold float64) []GeneFitResult {
	if lfcThreshold < 0 {
		lfcThreshold = -lfcThreshold
	}
	out := make([]GeneFitResult, len(fits))
	for i, r := range fits {
		if !r.Converged {
			r.Stat, r.P = math.NaN(), math.NaN()
			out[i] = r
			continue
		}
		excess := math.Abs(r.LFC) - lfcThreshold
		if excess < 0 {
			excess = 0
		}
		stat := excess / r.SE
		if r.LFC < 0 {
			stat = -stat
		}
		r.Stat = stat
		r.P = 2 * stdNormal.Survival(math.Abs(stat))
		if r.P > 1 {
			r.P = 1
		}
		out[i] = r
	}
	return out
}
