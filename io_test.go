// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"gopkg.in/check.v1"
)

type ioSuite struct{}

var _ = check.Suite(&ioSuite{})

const countsTSV = `# generated by upstream quantifier
gene	s1	s2	s3
g1	10	20	30
g2	0	0	5
g3	100	80	120
`

func (s *ioSuite) TestReadCounts(c *check.C) {
	m, err := ReadCounts(strings.NewReader(countsTSV))
	c.Assert(err, check.IsNil)
	c.Check(m.NGenes(), check.Equals, 3)
	c.Check(m.NSamples(), check.Equals, 3)
	c.Check(m.Genes(), check.DeepEquals, []string{"g1", "g2", "g3"})
	c.Check(m.Samples(), check.DeepEquals, []string{"s1", "s2", "s3"})
	c.Check(m.Counts(0), check.DeepEquals, []float64{10, 20, 30})
	c.Check(m.Counts(1), check.DeepEquals, []float64{0, 0, 5})
}

func (s *ioSuite) TestReadCountsEmpty(c *check.C) {
	_, err := ReadCounts(strings.NewReader(""))
	c.Check(err, check.NotNil)
}

func (s *ioSuite) TestReadCountsBadValue(c *check.C) {
	_, err := ReadCounts(strings.NewReader("gene\ts1\ng1\tabc\n"))
	c.Assert(err, check.NotNil)
	c.Check(err, check.ErrorMatches, `gene "g1", sample "s1":.*`)
}

func (s *ioSuite) TestReadCountsGzip(c *check.C) {
	path := filepath.Join(c.MkDir(), "counts.tsv.gz")
	f, err := os.Create(path)
	c.Assert(err, check.IsNil)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(countsTSV))
	c.Assert(err, check.IsNil)
	c.Assert(zw.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	in, err := openInput(path, nil)
	c.Assert(err, check.IsNil)
	defer in.Close()
	m, err := ReadCounts(in)
	c.Assert(err, check.IsNil)
	c.Check(m.NGenes(), check.Equals, 3)
	c.Check(m.Counts(2), check.DeepEquals, []float64{100, 80, 120})
}

func (s *ioSuite) TestReadMetadata(c *check.C) {
	meta := "sample\tbatch\tcondition\ns1\tA\tctl\ns2\tA\ttrt\ns3\tB\ttrt\n"
	cond, err := ReadMetadata(strings.NewReader(meta), "")
	c.Assert(err, check.IsNil)
	c.Check(cond, check.DeepEquals, map[string]string{"s1": "ctl", "s2": "trt", "s3": "trt"})
}

func (s *ioSuite) TestReadMetadataNamedColumn(c *check.C) {
	meta := "sample\tgroup\tcondition\ns1\tx\tctl\ns2\ty\ttrt\n"
	cond, err := ReadMetadata(strings.NewReader(meta), "group")
	c.Assert(err, check.IsNil)
	c.Check(cond, check.DeepEquals, map[string]string{"s1": "x", "s2": "y"})
}

func (s *ioSuite) TestReadMetadataFallbackColumn(c *check.C) {
	// No header cell matches: the second column is the condition.
	meta := "id\tgrp\ns1\tctl\ns2\ttrt\n"
	cond, err := ReadMetadata(strings.NewReader(meta), "")
	c.Assert(err, check.IsNil)
	c.Check(cond, check.DeepEquals, map[string]string{"s1": "ctl", "s2": "trt"})
}

func (s *ioSuite) TestReadMetadataDuplicateSample(c *check.C) {
	meta := "sample\tcondition\ns1\tctl\ns1\ttrt\n"
	_, err := ReadMetadata(strings.NewReader(meta), "")
	c.Check(err, check.ErrorMatches, `duplicate metadata row for sample "s1"`)
}

func (s *ioSuite) TestWriteTSV(c *check.C) {
	adj := 0.0125
	t := &ResultTable{
		Alpha: 0.1,
		Rows: []ResultRow{
			{Gene: "g1", BaseMean: 120.5, LFC: 1.5, SE: 0.25, Stat: 6, P: 0.001, AdjP: &adj, Status: StatusOK, Converged: true, Significant: true},
			{Gene: "g2", BaseMean: 2.1, LFC: 0.3, SE: 0.9, Stat: 0.33, P: 0.74, Status: StatusLowCount, Converged: true},
			{Gene: "g3", BaseMean: 0, LFC: math.NaN(), SE: math.NaN(), Stat: math.NaN(), P: math.NaN(), Status: StatusNotConverged},
		},
	}
	var buf strings.Builder
	c.Assert(t.WriteTSV(&buf), check.IsNil)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 4)
	c.Check(lines[0], check.Equals, "gene\tbaseMean\tlog2FoldChange\tlfcSE\tstat\tpvalue\tpadj\tsignificant\tstatus")
	c.Check(lines[1], check.Equals, "g1\t120.5\t1.5\t0.25\t6\t0.001\t0.0125\ttrue\tok")
	c.Check(lines[2], check.Equals, "g2\t2.1\t0.3\t0.9\t0.33\t0.74\tNA\tfalse\tlow-count")
	c.Check(lines[3], check.Equals, "g3\t0\tNA\tNA\tNA\tNA\tNA\tfalse\tnot-converged")
}
