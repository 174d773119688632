// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"

	"gopkg.in/check.v1"
)

type waldSuite struct{}

var _ = check.Suite(&waldSuite{})

func (s *waldSuite) TestWaldTest(c *check.C) {
	fits := []GeneFitResult{
		{Gene: "up", LFC: 2, SE: 0.5, Converged: true},
		{Gene: "down", LFC: -2, SE: 0.5, Converged: true},
		{Gene: "flat", LFC: 0.01, SE: 0.5, Converged: true},
		{Gene: "failed", LFC: 0, SE: 0, Converged: false, Status: StatusNotConverged},
	}

	out := WaldTest(fits, 0)
	c.Check(out[0].Stat, check.Equals, 4.0)
	c.Check(out[1].Stat, check.Equals, -4.0)
	c.Check(math.Abs(out[0].P-6.334e-05) < 1e-7, check.Equals, true,
		check.Commentf("p = %g", out[0].P))
	c.Check(out[0].P, check.Equals, out[1].P)
	c.Check(out[2].P > 0.9, check.Equals, true)
	// Non-converged rows come out with NaN statistics even though the
	// fixture left them at their zero values.
	c.Check(math.IsNaN(out[3].P), check.Equals, true)
	c.Check(math.IsNaN(out[3].Stat), check.Equals, true)

	// Inputs are not mutated; each stage produces a new snapshot.
	c.Check(fits[0].P, check.Equals, 0.0)
	c.Check(fits[0].Stat, check.Equals, 0.0)
}

func (s *waldSuite) TestThreshold(c *check.C) {
	fits := []GeneFitResult{
		{Gene: "a", LFC: 1.5, SE: 0.25, Converged: true},
		{Gene: "b", LFC: -0.8, SE: 0.1, Converged: true},
		{Gene: "c", LFC: 0.5, SE: 0.5, Converged: true},
	}

	zero := WaldTest(fits, 0)
	one := WaldTest(fits, 1)

	// |LFC| below the threshold scores 0 and p = 1.
	c.Check(one[1].Stat, check.Equals, 0.0)
	c.Check(one[1].P, check.Equals, 1.0)
	// Statistic shrinks by τ/SE for effects beyond the boundary.
	c.Check(math.Abs(one[0].Stat-2.0) < 1e-12, check.Equals, true)

	// Raising the threshold can only reduce the significant count.
	sig := func(rs []GeneFitResult) int {
		n := 0
		for _, r := range rs {
			if r.P <= 0.05 {
				n++
			}
		}
		return n
	}
	c.Check(sig(one) <= sig(zero), check.Equals, true)

	// A negative threshold means its magnitude.
	neg := WaldTest(fits, -1)
	c.Check(neg, check.DeepEquals, one)
}
