// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"fmt"
	"io"
	"log"
	"math"
	"runtime"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
)

// Status explains why a gene's adjusted p-value may be absent. A nil AdjP
// with StatusOK never occurs; absence always carries a reason.
type Status int

const (
	StatusOK           Status = iota
	StatusLowCount            // removed by independent filtering before correction
	StatusNotConverged        // per-gene fit did not converge; excluded from testing
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusLowCount:
		return "low-count"
	case StatusNotConverged:
		return "not-converged"
	default:
		return "unknown"
	}
}

// GeneFitResult is one gene's row through the testing stages. LFC and SE
// are on the log2 scale, treatment over base. AdjP is nil for genes that
// were never tested (see Status); Stat and P are NaN until WaldTest runs.
type GeneFitResult struct {
	Gene      string
	BaseMean  float64
	LFC       float64
	SE        float64
	Stat      float64
	P         float64
	AdjP      *float64
	Status    Status
	Converged bool
}

// FitOptions control the per-gene GLM stage.
type FitOptions struct {
	Workers int // parallel gene fits, default NumCPU
}

// FitModels fits a negative-binomial GLM with a log link to every gene:
// one intercept, one treatment coefficient, log size factors as fixed
// offsets, and the gene's MAP dispersion from the dispersion stage. A
// non-converging gene is flagged and kept; it never aborts the stage.
// Identical inputs give identical coefficients: the IRLS path has no
// random component.
func FitModels(m *CountMatrix, sf *SizeFactors, disps []DispersionEstimate, design *Design, opts FitOptions) ([]GeneFitResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if len(disps) != m.NGenes() {
		return nil, fmt.Errorf("have %d dispersion estimates for %d genes", len(disps), m.NGenes())
	}
	ind, err := design.Indicator(m)
	if err != nil {
		return nil, err
	}
	icept := make([]float64, m.NSamples())
	offset := make([]float64, m.NSamples())
	for j := range icept {
		icept[j] = 1
		offset[j] = math.Log(sf.Factor(j))
	}

	results := make([]GeneFitResult, m.NGenes())
	var tt throttle
	tt.Max = opts.Workers
	for i := 0; i < m.NGenes(); i++ {
		tt.Acquire()
		go func(i int) {
			defer tt.Release()
			if disps[i].Gene != m.Gene(i) {
				tt.Report(fmt.Errorf("dispersion estimate %d is for gene %q, matrix row is %q", i, disps[i].Gene, m.Gene(i)))
				return
			}
			r := GeneFitResult{
				Gene:     m.Gene(i),
				BaseMean: stat.Mean(m.Normalized(i, sf), nil),
				Stat:     math.NaN(),
				P:        math.NaN(),
			}
			if r.BaseMean > 0 {
				lfc, se, ok := fitGeneGLM(m.Counts(i), icept, ind, offset, disps[i].MAP)
				r.LFC = lfc / math.Ln2
				r.SE = se / math.Ln2
				r.Converged = ok
			}
			if !r.Converged {
				r.Status = StatusNotConverged
			}
			results[i] = r
		}(i)
	}
	if err := tt.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fitGeneGLM returns the treatment coefficient and its standard error on
// the natural-log scale. IRLS runs on a fixed iteration budget, so it
// starts from moment estimates (log group means of offset-scaled counts);
// a fit that lands far from those is diverging, not converging, and is
// reported as non-converged even when the coefficients are finite. The
// standard error comes from the Fisher information at the fitted
// coefficients with the gene's dispersion held fixed: the library's own
// standard errors carry a Pearson-estimated scale, which has no place in
// a model whose dispersion was already estimated and shrunk. statmodel
// panics on near-singular designs, hence the recover.
func fitGeneGLM(counts, icept, treat, offset []float64, alpha float64) (lfc, se float64, ok bool) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			lfc, se, ok = 0, 0, false
		}
	}()

	var sum0, sum1, n0, n1 float64
	for j := range counts {
		v := counts[j] / math.Exp(offset[j])
		if treat[j] == 1 {
			sum1 += v
			n1++
		} else {
			sum0 += v
			n0++
		}
	}
	m0, m1 := sum0/n0, sum1/n1
	if m0 < 1e-3 {
		m0 = 1e-3
	}
	if m1 < 1e-3 {
		m1 = 1e-3
	}
	start := []float64{math.Log(m0), math.Log(m1 / m0)}

	data := [][]statmodel.Dtype{counts, icept, treat, offset}
	names := []string{"counts", "icept", "treat", "logsf"}
	dataset := statmodel.NewDataset(data, names)

	config := &glm.Config{
		Family:         glm.NewNegBinomFamily(alpha, glm.NewLink(glm.LogLink)),
		FitMethod:      "IRLS",
		ConcurrentIRLS: 1000,
		OffsetVar:      "logsf",
		Start:          start,
		Log:            log.New(io.Discard, "", 0),
	}
	model, err := glm.NewGLM(dataset, "counts", []string{"icept", "treat"}, config)
	if err != nil {
		return 0, 0, false
	}
	params := model.Fit().Params()
	if len(params) < 2 {
		return 0, 0, false
	}
	lfc = params[1]
	if math.IsNaN(lfc) || math.IsInf(lfc, 0) || math.Abs(lfc-start[1]) > 1.5 {
		return 0, 0, false
	}

	// With a 0/1 contrast the 2x2 Fisher information inverts in closed
	// form: se² = 1/w0 + 1/w1 over the per-group sums of the log-link NB
	// information weights mu/(1+alpha·mu).
	var w0, w1 float64
	for j := range counts {
		mu := math.Exp(params[0] + params[1]*treat[j] + offset[j])
		w := mu / (1 + alpha*mu)
		if treat[j] == 1 {
			w1 += w
		} else {
			w0 += w
		}
	}
	if !(w0 > 0) || !(w1 > 0) {
		return 0, 0, false
	}
	se = math.Sqrt(1/w0 + 1/w1)
	if math.IsNaN(se) || math.IsInf(se, 0) || se <= 0 {
		return 0, 0, false
	}
	return lfc, se, true
}
