// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"
	"runtime"

	"gonum.org/v1/gonum/stat/distuv"
)

// ShrunkResult carries a gene's posterior fold-change estimate. LFC and SE
// in the embedded result are replaced by the posterior mean and posterior
// standard deviation; the original estimates stay in RawLFC/RawSE, and the
// p-values and significance calls pass through untouched.
type ShrunkResult struct {
	GeneFitResult
	RawLFC float64
	RawSE  float64
}

// ShrinkOptions control the adaptive-shrinkage prior fit.
type ShrinkOptions struct {
	MaxIter int     // EM iteration cap, default 200
	Tol     float64 // EM convergence tolerance on mixture weights, default 1e-6
	Workers int     // parallel posterior computations, default NumCPU
}

func (opts ShrinkOptions) withDefaults() ShrinkOptions {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 200
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-6
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}

// ShrinkFoldChanges replaces each gene's LFC with its posterior mean under
// an adaptive prior fitted across all genes: a point mass at zero plus a
// geometric grid of zero-centred normal slabs, mixture weights fitted by
// EM on the marginal likelihoods of the observed (LFC, SE) pairs. A gene
// with a large standard error is pulled hard toward zero; a precise
// estimate barely moves. The posterior mean never exceeds the raw estimate
// in magnitude. Non-converged genes pass through unchanged.
func ShrinkFoldChanges(results []GeneFitResult, opts ShrinkOptions) []ShrunkResult {
	opts = opts.withDefaults()

	out := make([]ShrunkResult, len(results))
	var fitted []int
	for i, r := range results {
		out[i] = ShrunkResult{GeneFitResult: r, RawLFC: r.LFC, RawSE: r.SE}
		if r.Converged && r.SE > 0 && !math.IsNaN(r.LFC) {
			fitted = append(fitted, i)
		}
	}
	if len(fitted) == 0 {
		return out
	}

	lfc := make([]float64, len(fitted))
	se := make([]float64, len(fitted))
	for k, i := range fitted {
		lfc[k] = results[i].LFC
		se[k] = results[i].SE
	}

	sds := priorGrid(lfc, se)
	pi := fitMixture(lfc, se, sds, opts)

	var tt throttle
	tt.Max = opts.Workers
	for k, i := range fitted {
		tt.Acquire()
		go func(k, i int) {
			defer tt.Release()
			mean, sd := posterior(lfc[k], se[k], sds, pi)
			out[i].LFC = mean
			out[i].SE = sd
		}(k, i)
	}
	tt.Wait()
	return out
}

// priorGrid builds the component standard deviations: a spike at zero and
// slabs spaced by √2 spanning from well below the smallest standard error
// to past the largest observed effect.
func priorGrid(lfc, se []float64) []float64 {
	lo, hi := math.Inf(1), 0.0
	for k := range lfc {
		if se[k] < lo {
			lo = se[k]
		}
		if a := math.Abs(lfc[k]); a > hi {
			hi = a
		}
	}
	lo /= 10
	if hi < lo*2 {
		hi = lo * 2
	}
	sds := []float64{0}
	for sd := lo; sd < 2*hi; sd *= math.Sqrt2 {
		sds = append(sds, sd)
	}
	return sds
}

// fitMixture runs EM for the mixture weights. Only the weights move; the
// component likelihoods are fixed, so they are computed once in log space.
func fitMixture(lfc, se, sds []float64, opts ShrinkOptions) []float64 {
	ng, nc := len(lfc), len(sds)
	logLik := make([][]float64, ng)
	for g := 0; g < ng; g++ {
		logLik[g] = make([]float64, nc)
		for c, sd := range sds {
			marg := distuv.Normal{Mu: 0, Sigma: math.Sqrt(sd*sd + se[g]*se[g])}
			logLik[g][c] = marg.LogProb(lfc[g])
		}
	}

	pi := make([]float64, nc)
	for c := range pi {
		pi[c] = 1 / float64(nc)
	}
	next := make([]float64, nc)
	r := make([]float64, nc)
	for iter := 0; iter < opts.MaxIter; iter++ {
		for c := range next {
			next[c] = 0
		}
		for g := 0; g < ng; g++ {
			responsibilities(logLik[g], pi, r)
			for c := range r {
				next[c] += r[c]
			}
		}
		delta := 0.0
		for c := range next {
			next[c] /= float64(ng)
			if d := math.Abs(next[c] - pi[c]); d > delta {
				delta = d
			}
		}
		copy(pi, next)
		if delta < opts.Tol {
			break
		}
	}
	return pi
}

// responsibilities fills r with the posterior component weights for one
// gene, normalising in log space to survive extreme observations.
func responsibilities(logLik, pi []float64, r []float64) {
	maxv := math.Inf(-1)
	for c := range logLik {
		if pi[c] > 0 {
			v := math.Log(pi[c]) + logLik[c]
			r[c] = v
			if v > maxv {
				maxv = v
			}
		} else {
			r[c] = math.Inf(-1)
		}
	}
	sum := 0.0
	for c := range r {
		r[c] = math.Exp(r[c] - maxv)
		sum += r[c]
	}
	for c := range r {
		r[c] /= sum
	}
}

// posterior returns the posterior mean and standard deviation of one
// gene's true LFC. Under each normal component the posterior is normal
// with mean b·sd²/(sd²+se²); the spike contributes zero.
func posterior(b, se float64, sds, pi []float64) (mean, sd float64) {
	nc := len(sds)
	logLik := make([]float64, nc)
	for c, s := range sds {
		marg := distuv.Normal{Mu: 0, Sigma: math.Sqrt(s*s + se*se)}
		logLik[c] = marg.LogProb(b)
	}
	r := make([]float64, nc)
	responsibilities(logLik, pi, r)

	var m1, m2 float64
	for c, s := range sds {
		shrink := s * s / (s*s + se*se)
		cm := b * shrink
		cv := shrink * se * se
		m1 += r[c] * cm
		m2 += r[c] * (cv + cm*cm)
	}
	v := m2 - m1*m1
	if v < 0 {
		v = 0
	}
	return m1, math.Sqrt(v)
}
