// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CountMatrix holds raw read counts with genes as rows and samples as
// columns. Gene and sample identifiers are fixed at construction; counts
// are never modified afterwards.
type CountMatrix struct {
	genes   []string
	samples []string
	counts  [][]float64 // counts[gene][sample]

	geneIdx   map[string]int
	sampleIdx map[string]int
}

// NewCountMatrix builds a CountMatrix from raw integer counts. counts is
// indexed [gene][sample] and must be rectangular, non-negative, and
// integer-valued. Identifiers must be unique within their axis.
func NewCountMatrix(genes, samples []string, counts [][]float64) (*CountMatrix, error) {
	if len(counts) != len(genes) {
		return nil, fmt.Errorf("count matrix has %d rows for %d genes", len(counts), len(genes))
	}
	m := &CountMatrix{
		genes:     append([]string(nil), genes...),
		samples:   append([]string(nil), samples...),
		counts:    make([][]float64, len(genes)),
		geneIdx:   make(map[string]int, len(genes)),
		sampleIdx: make(map[string]int, len(samples)),
	}
	for i, g := range m.genes {
		if _, dup := m.geneIdx[g]; dup {
			return nil, fmt.Errorf("duplicate gene identifier %q", g)
		}
		m.geneIdx[g] = i
	}
	for j, s := range m.samples {
		if _, dup := m.sampleIdx[s]; dup {
			return nil, fmt.Errorf("duplicate sample identifier %q", s)
		}
		m.sampleIdx[s] = j
	}
	for i, row := range counts {
		if len(row) != len(samples) {
			return nil, fmt.Errorf("gene %q has %d counts for %d samples", genes[i], len(row), len(samples))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v != math.Trunc(v) {
				return nil, fmt.Errorf("gene %q, sample %q: count %v is not a non-negative integer", genes[i], samples[j], v)
			}
		}
		m.counts[i] = append([]float64(nil), row...)
	}
	return m, nil
}

func (m *CountMatrix) NGenes() int   { return len(m.genes) }
func (m *CountMatrix) NSamples() int { return len(m.samples) }

func (m *CountMatrix) Gene(i int) string   { return m.genes[i] }
func (m *CountMatrix) Sample(j int) string { return m.samples[j] }

// Genes returns the gene identifiers in matrix order.
func (m *CountMatrix) Genes() []string { return append([]string(nil), m.genes...) }

// Samples returns the sample identifiers in matrix order.
func (m *CountMatrix) Samples() []string { return append([]string(nil), m.samples...) }

// Counts returns the raw counts for gene i in sample order. The returned
// slice is shared, not copied; callers must not modify it.
func (m *CountMatrix) Counts(i int) []float64 { return m.counts[i] }

// Normalized returns counts[i][j]/sizefactor[j] for gene i.
func (m *CountMatrix) Normalized(i int, sf *SizeFactors) []float64 {
	row := make([]float64, len(m.samples))
	for j, v := range m.counts[i] {
		row[j] = v / sf.factors[j]
	}
	return row
}

// Design maps each sample to one of exactly two condition levels and fixes
// the direction of the tested contrast: fold changes are treatment over
// base. The contrast is always caller-supplied; it is never inferred from
// level ordering.
type Design struct {
	condition map[string]string
	base      string
	treatment string
}

// NewDesign validates the condition factor. condition must contain exactly
// two distinct levels, and base and treatment must name them.
func NewDesign(condition map[string]string, base, treatment string) (*Design, error) {
	if base == treatment {
		return nil, &InvalidDesignError{Reason: fmt.Sprintf("base and treatment level are both %q", base)}
	}
	levels := map[string]bool{}
	for _, lvl := range condition {
		levels[lvl] = true
	}
	if len(levels) != 2 {
		var names []string
		for lvl := range levels {
			names = append(names, lvl)
		}
		sort.Strings(names)
		return nil, &InvalidDesignError{Reason: fmt.Sprintf("condition factor has %d levels (%s), need exactly 2", len(levels), strings.Join(names, ", "))}
	}
	if !levels[base] {
		return nil, &InvalidDesignError{Reason: fmt.Sprintf("base level %q not present in metadata", base)}
	}
	if !levels[treatment] {
		return nil, &InvalidDesignError{Reason: fmt.Sprintf("treatment level %q not present in metadata", treatment)}
	}
	cond := make(map[string]string, len(condition))
	for s, lvl := range condition {
		cond[s] = lvl
	}
	return &Design{condition: cond, base: base, treatment: treatment}, nil
}

func (d *Design) Base() string      { return d.base }
func (d *Design) Treatment() string { return d.treatment }

// Level returns the condition level for a sample.
func (d *Design) Level(sample string) string { return d.condition[sample] }

// AlignTo checks that the design's sample set exactly matches the matrix's
// column set.
func (d *Design) AlignTo(m *CountMatrix) error {
	var missing, extra []string
	for _, s := range m.samples {
		if _, ok := d.condition[s]; !ok {
			missing = append(missing, s)
		}
	}
	for s := range d.condition {
		if _, ok := m.sampleIdx[s]; !ok {
			extra = append(extra, s)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return &AlignmentError{MissingFromMetadata: missing, MissingFromCounts: extra}
	}
	return nil
}

// Indicator returns a 0/1 treatment indicator aligned to the matrix's
// sample order.
func (d *Design) Indicator(m *CountMatrix) ([]float64, error) {
	if err := d.AlignTo(m); err != nil {
		return nil, err
	}
	ind := make([]float64, len(m.samples))
	for j, s := range m.samples {
		if d.condition[s] == d.treatment {
			ind[j] = 1
		}
	}
	return ind, nil
}
