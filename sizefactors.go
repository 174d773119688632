// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"fmt"
	"math"
	"sort"
)

// SizeFactors holds one positive scaling factor per sample, aligned to the
// matrix's sample order. Dividing a sample's raw counts by its factor puts
// all samples on a comparable scale.
type SizeFactors struct {
	samples []string
	factors []float64
}

// Factor returns the size factor for sample index j.
func (sf *SizeFactors) Factor(j int) float64 { return sf.factors[j] }

// Factors returns all size factors in sample order.
func (sf *SizeFactors) Factors() []float64 { return append([]float64(nil), sf.factors...) }

// For returns the size factor for a sample by name.
func (sf *SizeFactors) For(sample string) (float64, bool) {
	for j, s := range sf.samples {
		if s == sample {
			return sf.factors[j], true
		}
	}
	return 0, false
}

// EstimateSizeFactors computes median-of-ratios size factors (Anders &
// Huber 2010, eq. 5). Each gene with a nonzero count in every sample
// contributes the ratio of each sample's count to the gene's geometric
// mean across samples; a sample's factor is the median of its ratios.
// The median is robust to a minority of strongly differential genes,
// which would bias total-count scaling.
func EstimateSizeFactors(m *CountMatrix) (*SizeFactors, error) {
	nsamp := m.NSamples()
	logMeans := make([]float64, m.NGenes())
	usable := 0
	for i := 0; i < m.NGenes(); i++ {
		row := m.Counts(i)
		sum := 0.0
		ok := true
		for _, v := range row {
			if v == 0 {
				ok = false
				break
			}
			sum += math.Log(v)
		}
		if !ok {
			logMeans[i] = math.Inf(-1)
			continue
		}
		logMeans[i] = sum / float64(nsamp)
		usable++
	}
	if usable == 0 {
		return nil, &DegenerateInputError{
			Stage:  "size factor estimation",
			Reason: "every gene has a zero count in at least one sample; no reference can be computed",
		}
	}

	factors := make([]float64, nsamp)
	ratios := make([]float64, 0, usable)
	for j := 0; j < nsamp; j++ {
		ratios = ratios[:0]
		for i := 0; i < m.NGenes(); i++ {
			if math.IsInf(logMeans[i], -1) {
				continue
			}
			ratios = append(ratios, math.Log(m.Counts(i)[j])-logMeans[i])
		}
		sort.Float64s(ratios)
		factors[j] = math.Exp(median(ratios))
		if factors[j] <= 0 || math.IsNaN(factors[j]) || math.IsInf(factors[j], 0) {
			return nil, &DegenerateInputError{
				Stage:  "size factor estimation",
				Reason: fmt.Sprintf("sample %q: degenerate factor %v", m.Sample(j), factors[j]),
			}
		}
	}
	return &SizeFactors{samples: m.Samples(), factors: factors}, nil
}

// median returns the median of a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
