// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Params configure a full pipeline run. The zero value of every field
// selects a sensible default except Base and Treatment, which must name
// the design's contrast.
type Params struct {
	Alpha        float64 // target FDR, default 0.1
	LFCThreshold float64 // null boundary for the Wald test, default 0
	SkipShrink   bool    // leave raw MLE fold changes in the table
	Workers      int     // parallel gene fits, default NumCPU

	Dispersion DispersionOptions
	Filter     *FilterPolicy
	Shrink     ShrinkOptions
}

// ResultRow is one gene in the final table. When shrinkage ran, LFC and SE
// are the posterior estimates and RawLFC/RawSE keep the MLE values;
// otherwise the pairs are equal.
type ResultRow struct {
	Gene        string
	BaseMean    float64
	LFC         float64
	SE          float64
	RawLFC      float64
	RawSE       float64
	Stat        float64
	P           float64
	AdjP        *float64
	Status      Status
	Converged   bool
	Significant bool
}

// ResultTable is the pipeline's output: one row per input gene, in matrix
// order, plus the size factors needed to reproduce normalized counts.
type ResultTable struct {
	Alpha        float64
	LFCThreshold float64
	SizeFactors  *SizeFactors
	Rows         []ResultRow
}

// Run composes the whole pipeline: size factors, dispersions, per-gene
// GLMs, Wald tests against the LFC threshold, independent filtering with
// Benjamini-Hochberg correction, and fold-change shrinkage. Fatal errors
// (alignment, degenerate input, trend failure) abort the run; a single
// gene's non-convergence only flags that gene's row.
func Run(m *CountMatrix, design *Design, p Params) (*ResultTable, error) {
	if p.Alpha <= 0 {
		p.Alpha = 0.1
	}
	if p.Workers > 0 {
		if p.Dispersion.Workers <= 0 {
			p.Dispersion.Workers = p.Workers
		}
		if p.Shrink.Workers <= 0 {
			p.Shrink.Workers = p.Workers
		}
	}
	if err := design.AlignTo(m); err != nil {
		return nil, err
	}

	log.Infof("estimating size factors for %d samples", m.NSamples())
	sf, err := EstimateSizeFactors(m)
	if err != nil {
		return nil, err
	}

	log.Infof("estimating dispersions for %d genes", m.NGenes())
	disps, err := EstimateDispersions(m, sf, design, p.Dispersion)
	if err != nil {
		return nil, err
	}

	log.Info("fitting per-gene models")
	fits, err := FitModels(m, sf, disps, design, FitOptions{Workers: p.Workers})
	if err != nil {
		return nil, err
	}

	log.Infof("Wald tests, |LFC| threshold %.3g", p.LFCThreshold)
	fits = WaldTest(fits, p.LFCThreshold)

	log.Infof("multiple-testing correction at FDR %.3g", p.Alpha)
	fits = CorrectMultipleTesting(fits, p.Alpha, p.Filter)

	var shrunk []ShrunkResult
	if p.SkipShrink {
		shrunk = make([]ShrunkResult, len(fits))
		for i, r := range fits {
			shrunk[i] = ShrunkResult{GeneFitResult: r, RawLFC: r.LFC, RawSE: r.SE}
		}
	} else {
		log.Info("shrinking fold changes")
		shrunk = ShrinkFoldChanges(fits, p.Shrink)
	}

	table := &ResultTable{
		Alpha:        p.Alpha,
		LFCThreshold: p.LFCThreshold,
		SizeFactors:  sf,
		Rows:         make([]ResultRow, len(shrunk)),
	}
	nsig := 0
	for i, r := range shrunk {
		row := ResultRow{
			Gene:      r.Gene,
			BaseMean:  r.BaseMean,
			LFC:       r.LFC,
			SE:        r.SE,
			RawLFC:    r.RawLFC,
			RawSE:     r.RawSE,
			Stat:      r.Stat,
			P:         r.P,
			AdjP:      r.AdjP,
			Status:    r.Status,
			Converged: r.Converged,
		}
		row.Significant = row.AdjP != nil && *row.AdjP <= p.Alpha
		if row.Significant {
			nsig++
		}
		table.Rows[i] = row
	}
	log.Infof("%d of %d genes significant at FDR %.3g", nsig, len(table.Rows), p.Alpha)
	return table, nil
}

// NotTested reports whether a row was excluded before correction rather
// than tested and found non-significant.
func (r *ResultRow) NotTested() bool {
	return r.AdjP == nil
}

// isNA reports values the table writer renders as NA.
func isNA(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }
