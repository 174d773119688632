// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"errors"
	"math"

	"gopkg.in/check.v1"
)

type sizeFactorSuite struct{}

var _ = check.Suite(&sizeFactorSuite{})

func (s *sizeFactorSuite) TestProportionalDepths(c *check.C) {
	// Counts exactly proportional to per-sample depth: every gene yields
	// the same ratio, so factors recover the depths up to their geometric
	// mean and the factors' own geometric mean is 1.
	depths := []float64{1, 2, 4}
	base := []float64{10, 50, 100, 400}
	genes := []string{"g1", "g2", "g3", "g4"}
	counts := make([][]float64, len(base))
	for i, b := range base {
		counts[i] = make([]float64, len(depths))
		for j, d := range depths {
			counts[i][j] = b * d
		}
	}
	m, err := NewCountMatrix(genes, []string{"s1", "s2", "s3"}, counts)
	c.Assert(err, check.IsNil)

	sf, err := EstimateSizeFactors(m)
	c.Assert(err, check.IsNil)

	geomDepth := math.Pow(1*2*4, 1.0/3)
	logSum := 0.0
	for j := range depths {
		c.Check(math.Abs(sf.Factor(j)-depths[j]/geomDepth) < 1e-9, check.Equals, true)
		logSum += math.Log(sf.Factor(j))
	}
	c.Check(math.Abs(logSum) < 1e-9, check.Equals, true)

	f, ok := sf.For("s3")
	c.Check(ok, check.Equals, true)
	c.Check(f, check.Equals, sf.Factor(2))
}

func (s *sizeFactorSuite) TestRobustToDifferentialGenes(c *check.C) {
	// A single strongly differential gene must not move the median ratio.
	counts := [][]float64{
		{10, 10}, {20, 20}, {30, 30}, {40, 40},
		{10, 10000},
	}
	m, err := NewCountMatrix([]string{"a", "b", "c", "d", "e"}, []string{"s1", "s2"}, counts)
	c.Assert(err, check.IsNil)
	sf, err := EstimateSizeFactors(m)
	c.Assert(err, check.IsNil)
	c.Check(math.Abs(sf.Factor(0)-sf.Factor(1)) < 0.05, check.Equals, true)
}

func (s *sizeFactorSuite) TestDegenerateInput(c *check.C) {
	// Every gene has a zero somewhere; the geometric-mean reference is
	// empty and normalization is impossible.
	m, err := NewCountMatrix(
		[]string{"g1", "g2"},
		[]string{"s1", "s2"},
		[][]float64{{0, 5}, {7, 0}})
	c.Assert(err, check.IsNil)
	_, err = EstimateSizeFactors(m)
	var derr *DegenerateInputError
	c.Check(errors.As(err, &derr), check.Equals, true)
}
