// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type dispersionSuite struct{}

var _ = check.Suite(&dispersionSuite{})

// testMatrix builds a deterministic two-condition matrix: ngenes genes
// whose counts carry mild within-group variability that size factors
// cannot absorb.
func testMatrix(c *check.C, ngenes int) (*CountMatrix, *Design) {
	samples := []string{"c1", "c2", "c3", "t1", "t2", "t3"}
	condition := map[string]string{}
	for _, s := range samples[:3] {
		condition[s] = "ctl"
	}
	for _, s := range samples[3:] {
		condition[s] = "trt"
	}
	genes := make([]string, ngenes)
	counts := make([][]float64, ngenes)
	for g := 0; g < ngenes; g++ {
		genes[g] = fmt.Sprintf("gene%03d", g)
		base := float64(20 + 17*g)
		row := make([]float64, len(samples))
		for j := range row {
			jitter := 1 + 0.2*float64((g+j)%3-1)
			row[j] = math.Round(base * jitter)
		}
		counts[g] = row
	}
	m, err := NewCountMatrix(genes, samples, counts)
	c.Assert(err, check.IsNil)
	design, err := NewDesign(condition, "ctl", "trt")
	c.Assert(err, check.IsNil)
	return m, design
}

func (s *dispersionSuite) TestEstimateDispersions(c *check.C) {
	m, design := testMatrix(c, 40)
	sf, err := EstimateSizeFactors(m)
	c.Assert(err, check.IsNil)

	ests, err := EstimateDispersions(m, sf, design, DispersionOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(ests, check.HasLen, 40)

	for _, e := range ests {
		c.Check(e.MAP > 0, check.Equals, true)
		c.Check(e.Trend > 0, check.Equals, true)
		if e.Outlier {
			// Outliers keep their own estimate; the trend has no claim.
			c.Check(e.MAP, check.Equals, e.GeneWise)
			continue
		}
		if !e.Converged {
			c.Check(e.MAP, check.Equals, e.Trend)
			continue
		}
		lo := math.Min(e.GeneWise, e.Trend)
		hi := math.Max(e.GeneWise, e.Trend)
		c.Check(e.MAP >= lo-1e-12 && e.MAP <= hi+1e-12, check.Equals, true,
			check.Commentf("%s: MAP %g outside [%g, %g]", e.Gene, e.MAP, lo, hi))
	}
}

func (s *dispersionSuite) TestDeterministic(c *check.C) {
	m, design := testMatrix(c, 25)
	sf, err := EstimateSizeFactors(m)
	c.Assert(err, check.IsNil)

	a, err := EstimateDispersions(m, sf, design, DispersionOptions{Workers: 4})
	c.Assert(err, check.IsNil)
	b, err := EstimateDispersions(m, sf, design, DispersionOptions{Workers: 1})
	c.Assert(err, check.IsNil)
	c.Check(a, check.DeepEquals, b)
}

func (s *dispersionSuite) TestTooFewGenes(c *check.C) {
	m, err := NewCountMatrix(
		[]string{"g1", "g2"},
		[]string{"c1", "c2", "t1", "t2"},
		[][]float64{{10, 12, 9, 11}, {100, 90, 110, 95}})
	c.Assert(err, check.IsNil)
	design, err := NewDesign(map[string]string{"c1": "ctl", "c2": "ctl", "t1": "trt", "t2": "trt"}, "ctl", "trt")
	c.Assert(err, check.IsNil)
	sf, err := EstimateSizeFactors(m)
	c.Assert(err, check.IsNil)

	_, err = EstimateDispersions(m, sf, design, DispersionOptions{})
	var ferr *DispersionFitError
	c.Check(errors.As(err, &ferr), check.Equals, true)
}

func (s *dispersionSuite) TestGeneWiseLikelihood(c *check.C) {
	// Likelihood must be finite and favor a moderate dispersion for
	// visibly overdispersed counts.
	counts := []float64{5, 50, 5, 50}
	mu := []float64{27.5, 27.5, 27.5, 27.5}
	llLow := nbLogLik(counts, mu, 1e-8)
	llMid := nbLogLik(counts, mu, 0.5)
	c.Check(math.IsInf(llLow, 0) || math.IsNaN(llLow), check.Equals, false)
	c.Check(math.IsInf(llMid, 0) || math.IsNaN(llMid), check.Equals, false)
	c.Check(llMid > llLow, check.Equals, true)
}
