// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// DispersionEstimate is the per-gene outcome of the three-phase dispersion
// fit. MAP is the value used by the GLM stage: the empirical-Bayes
// compromise between the gene's own estimate and the fitted trend, except
// for outliers, which keep their gene-wise value.
type DispersionEstimate struct {
	Gene      string
	BaseMean  float64
	GeneWise  float64
	Trend     float64
	MAP       float64
	Outlier   bool
	Converged bool
}

// DispersionOptions control the dispersion estimator. Zero values select
// the defaults noted on each field.
type DispersionOptions struct {
	MinDisp      float64 // lower search bound, default 1e-8
	MaxDisp      float64 // upper search bound, default 10
	OutlierSDs   float64 // log-residual spread multiple flagging outliers, default 2
	TrendMaxIter int     // reweighting iterations for the trend fit, default 20
	Workers      int     // parallel gene fits, default NumCPU
}

func (opts DispersionOptions) withDefaults() DispersionOptions {
	if opts.MinDisp <= 0 {
		opts.MinDisp = 1e-8
	}
	if opts.MaxDisp <= 0 {
		opts.MaxDisp = 10
	}
	if opts.OutlierSDs <= 0 {
		opts.OutlierSDs = 2
	}
	if opts.TrendMaxIter <= 0 {
		opts.TrendMaxIter = 20
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}

// EstimateDispersions fits a per-gene negative-binomial dispersion
// (variance = mean + disp·mean²), fits a parametric trend
// trend(mean) = a0 + a1/mean across genes, and shrinks each gene-wise
// estimate toward the trend weighted by the precision of the gene's own
// estimate. Gene fits run in parallel; the trend fit is a barrier that
// needs every gene-wise value.
func EstimateDispersions(m *CountMatrix, sf *SizeFactors, design *Design, opts DispersionOptions) ([]DispersionEstimate, error) {
	opts = opts.withDefaults()
	ind, err := design.Indicator(m)
	if err != nil {
		return nil, err
	}

	ests := make([]DispersionEstimate, m.NGenes())
	var tt throttle
	tt.Max = opts.Workers
	for i := 0; i < m.NGenes(); i++ {
		tt.Acquire()
		go func(i int) {
			defer tt.Release()
			ests[i] = geneWiseDispersion(m, sf, ind, i, opts)
		}(i)
	}
	if err := tt.Wait(); err != nil {
		return nil, err
	}

	a0, a1, err := fitDispersionTrend(ests, opts)
	if err != nil {
		return nil, err
	}
	log.Infof("dispersion trend: %.4g + %.4g/mean", a0, a1)

	shrinkDispersions(ests, a0, a1, m.NSamples(), opts)
	return ests, nil
}

// geneWiseDispersion maximises the NB profile likelihood for one gene. The
// per-sample fitted mean is the gene's mean normalized count within the
// sample's condition level, scaled back by the sample's size factor.
func geneWiseDispersion(m *CountMatrix, sf *SizeFactors, ind []float64, i int, opts DispersionOptions) DispersionEstimate {
	counts := m.Counts(i)
	norm := m.Normalized(i, sf)
	est := DispersionEstimate{Gene: m.Gene(i), BaseMean: stat.Mean(norm, nil)}

	var sum0, sum1, n0, n1 float64
	for j, v := range norm {
		if ind[j] == 1 {
			sum1 += v
			n1++
		} else {
			sum0 += v
			n0++
		}
	}
	mu := make([]float64, len(counts))
	for j := range counts {
		q := sum0 / n0
		if ind[j] == 1 {
			q = sum1 / n1
		}
		mu[j] = q * sf.Factor(j)
	}
	if est.BaseMean == 0 {
		// No reads anywhere; there is nothing to estimate.
		est.GeneWise = opts.MinDisp
		return est
	}

	ll := func(logAlpha float64) float64 {
		return nbLogLik(counts, mu, math.Exp(logAlpha))
	}
	logAlpha, atUpper := maximizeScalar(ll, math.Log(opts.MinDisp), math.Log(opts.MaxDisp))
	est.GeneWise = math.Exp(logAlpha)
	est.Converged = !atUpper
	return est
}

// nbLogLik is the negative-binomial log likelihood with per-sample means mu
// and common dispersion alpha, dropping the count-only term. Samples with
// zero fitted mean carry no information and are skipped.
func nbLogLik(counts, mu []float64, alpha float64) float64 {
	inv := 1 / alpha
	var ll float64
	for j, k := range counts {
		if mu[j] <= 0 {
			continue
		}
		lg1, _ := math.Lgamma(k + inv)
		lg2, _ := math.Lgamma(inv)
		am := alpha * mu[j]
		ll += lg1 - lg2 + k*math.Log(am/(1+am)) - inv*math.Log(1+am)
	}
	return ll
}

// maximizeScalar runs a golden-section search for the maximum of f on
// [lo, hi]. The iteration count is fixed; 100 steps shrink the bracket far
// below any tolerance that matters here. atUpper reports an optimum pinned
// at hi, which for a dispersion fit means the estimate is diverging.
func maximizeScalar(f func(float64) float64, lo, hi float64) (x float64, atUpper bool) {
	const invPhi = 0.6180339887498949
	a, b := lo, hi
	c := b - (b-a)*invPhi
	d := a + (b-a)*invPhi
	fc, fd := f(c), f(d)
	for i := 0; i < 100; i++ {
		if fc > fd {
			b, d, fd = d, c, fc
			c = b - (b-a)*invPhi
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + (b-a)*invPhi
			fd = f(d)
		}
	}
	x = (a + b) / 2
	return x, hi-x < 1e-6*(hi-lo)
}

// fitDispersionTrend regresses gene-wise dispersion on 1/baseMean with
// gamma-style weights (1/fitted²), reweighting until the coefficients
// stabilise. Genes flagged non-converged or without expression are left
// out. When the reweighting does not settle (typically counts with no
// usable mean-dispersion relationship) the fallback is a flat trend at
// the median gene-wise dispersion; DispersionFitError is reserved for
// input that cannot support any trend at all.
func fitDispersionTrend(ests []DispersionEstimate, opts DispersionOptions) (a0, a1 float64, err error) {
	var xs, ys []float64
	for _, e := range ests {
		if !e.Converged || e.BaseMean <= 0 {
			continue
		}
		xs = append(xs, 1/e.BaseMean)
		ys = append(ys, e.GeneWise)
	}
	if len(xs) < 3 {
		return 0, 0, &DispersionFitError{Reason: fmt.Sprintf("only %d usable gene-wise estimates", len(xs))}
	}

	w := make([]float64, len(xs))
	for i := range w {
		w[i] = 1
	}
	for iter := 0; iter < opts.TrendMaxIter; iter++ {
		na0, na1 := stat.LinearRegression(xs, ys, w, false)
		if math.IsNaN(na0) || math.IsNaN(na1) {
			return 0, 0, &DispersionFitError{Reason: "regression produced NaN coefficients"}
		}
		if na1 < 0 {
			// The asymptotic term cannot be negative; refit as a flat
			// trend at the weighted mean.
			na1 = 0
			na0 = stat.Mean(ys, w)
		}
		if na0 < opts.MinDisp {
			na0 = opts.MinDisp
		}
		if iter > 0 {
			d0 := math.Abs(na0-a0) / (math.Abs(a0) + 1e-12)
			d1 := math.Abs(na1-a1) / (math.Abs(a1) + 1e-12)
			if d0 < 1e-6 && d1 < 1e-6 {
				return na0, na1, nil
			}
		}
		a0, a1 = na0, na1
		for i := range w {
			pred := a0 + a1*xs[i]
			w[i] = 1 / (pred * pred)
		}
	}
	// Reweighting that is still moving after the cap means the counts carry
	// no stable mean-dispersion relationship. Fall back to a flat trend at
	// the median gene-wise estimate rather than refusing to proceed.
	log.Warnf("dispersion trend not stable after %d iterations, using flat trend", opts.TrendMaxIter)
	sorted := append([]float64(nil), ys...)
	sort.Float64s(sorted)
	a0 = median(sorted)
	if a0 < opts.MinDisp {
		a0 = opts.MinDisp
	}
	return a0, 0, nil
}

// shrinkDispersions fills in Trend and MAP for every gene. The shrinkage
// is a precision-weighted average in log space: the sampling variance of a
// gene's own log dispersion (≈ 2/residual df) against the prior variance
// estimated from the spread of log residuals around the trend. Genes far
// above the trend keep their own estimate; the trend has no claim on them.
func shrinkDispersions(ests []DispersionEstimate, a0, a1 float64, nsamples int, opts DispersionOptions) {
	trendAt := func(mean float64) float64 {
		if mean <= 0 {
			return a0
		}
		return a0 + a1/mean
	}

	var logRes []float64
	for i := range ests {
		ests[i].Trend = trendAt(ests[i].BaseMean)
		if ests[i].Converged && ests[i].BaseMean > 0 {
			logRes = append(logRes, math.Log(ests[i].GeneWise)-math.Log(ests[i].Trend))
		}
	}
	spread := madSpread(logRes)

	df := float64(nsamples - 2)
	if df < 1 {
		df = 1
	}
	samplingVar := 2 / df
	priorVar := spread*spread - samplingVar
	if priorVar < 0.25 {
		priorVar = 0.25
	}

	for i := range ests {
		e := &ests[i]
		if !e.Converged || e.BaseMean <= 0 {
			// No reliable gene-wise value; fall back to the trend.
			e.MAP = e.Trend
			continue
		}
		res := math.Log(e.GeneWise) - math.Log(e.Trend)
		if res > opts.OutlierSDs*spread && spread > 0 {
			e.Outlier = true
			e.MAP = e.GeneWise
			continue
		}
		wGene := 1 / samplingVar
		wTrend := 1 / priorVar
		e.MAP = math.Exp((wGene*math.Log(e.GeneWise) + wTrend*math.Log(e.Trend)) / (wGene + wTrend))
	}
}

// madSpread is the median absolute deviation scaled to estimate a standard
// deviation under normality.
func madSpread(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	med := median(sorted)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	return 1.4826 * median(dev)
}
