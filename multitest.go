// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FilterPolicy chooses which genes enter multiple-testing correction.
// Statistic must be monotonically related to a test's power; the sweep
// over Quantiles picks the cutoff that maximises the number of genes
// passing the target FDR. Filtered genes are marked not-tested, which is a
// different outcome from tested-but-not-significant.
type FilterPolicy struct {
	// Statistic maps a gene to the filter criterion. Default: BaseMean.
	Statistic func(GeneFitResult) float64

	// Quantiles are the candidate cutoffs, as quantiles of Statistic over
	// the testable genes. Default: 0 to 0.95 in steps of 0.01.
	Quantiles []float64
}

func (p *FilterPolicy) withDefaults() *FilterPolicy {
	out := &FilterPolicy{}
	if p != nil {
		*out = *p
	}
	if out.Statistic == nil {
		out.Statistic = func(r GeneFitResult) float64 { return r.BaseMean }
	}
	if out.Quantiles == nil {
		for q := 0.0; q < 0.9501; q += 0.01 {
			out.Quantiles = append(out.Quantiles, q)
		}
	}
	return out
}

// CorrectMultipleTesting applies independent filtering and then the
// Benjamini-Hochberg step-up procedure at the given FDR level. Every input
// gene appears in the output: tested genes get an adjusted p-value,
// filtered and non-converged genes get AdjP == nil with the reason in
// Status. Among cutoffs tied for the maximum rejection count, the lowest
// wins, keeping the filter as permissive as the target FDR allows.
func CorrectMultipleTesting(results []GeneFitResult, alpha float64, policy *FilterPolicy) []GeneFitResult {
	policy = policy.withDefaults()
	out := make([]GeneFitResult, len(results))
	copy(out, results)

	var testable []int
	for i, r := range out {
		if r.Converged && !math.IsNaN(r.P) {
			testable = append(testable, i)
		} else if r.Status == StatusOK {
			out[i].Status = StatusNotConverged
		}
	}
	if len(testable) == 0 {
		return out
	}

	stats := make([]float64, len(testable))
	pvals := make([]float64, len(testable))
	for k, i := range testable {
		stats[k] = policy.Statistic(out[i])
		pvals[k] = out[i].P
	}
	sortedStats := append([]float64(nil), stats...)
	sort.Float64s(sortedStats)

	bestCut := math.Inf(-1)
	bestRej := -1
	sub := make([]float64, 0, len(testable))
	for _, q := range policy.Quantiles {
		cut := stat.Quantile(q, stat.Empirical, sortedStats, nil)
		sub = sub[:0]
		for k := range testable {
			if stats[k] >= cut {
				sub = append(sub, pvals[k])
			}
		}
		rej := 0
		for _, adj := range benjaminiHochberg(sub) {
			if adj <= alpha {
				rej++
			}
		}
		if rej > bestRej {
			bestRej, bestCut = rej, cut
		}
	}

	var kept []int
	sub = sub[:0]
	for k, i := range testable {
		if stats[k] >= bestCut {
			kept = append(kept, i)
			sub = append(sub, pvals[k])
		} else {
			out[i].Status = StatusLowCount
		}
	}
	adj := benjaminiHochberg(sub)
	for k, i := range kept {
		a := adj[k]
		out[i].AdjP = &a
	}
	return out
}

// benjaminiHochberg returns step-up adjusted p-values:
// adj(i) = min over j≥i of p(j)·m/j in rank order, enforced with a running
// minimum from the largest p-value down.
func benjaminiHochberg(pvals []float64) []float64 {
	n := len(pvals)
	if n == 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		return pvals[idx[i]] < pvals[idx[j]]
	})
	adj := make([]float64, n)
	minP := 1.0
	for i := n - 1; i >= 0; i-- {
		a := pvals[idx[i]] * float64(n) / float64(i+1)
		if a > 1 {
			a = 1
		}
		if a < minP {
			minP = a
		} else {
			a = minP
		}
		adj[idx[i]] = a
	}
	return adj
}
