// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// ReadCounts parses a tab-separated count matrix: a header row of sample
// identifiers after the gene-ID column, then one row per gene of
// non-negative integer counts. Lines starting with # are comments.
func ReadCounts(r io.Reader) (*CountMatrix, error) {
	c := csv.NewReader(r)
	c.Comma = '\t'
	c.Comment = '#'

	header, err := c.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("count matrix header has %d columns, need gene ID plus at least one sample", len(header))
	}
	samples := header[1:]

	var genes []string
	var counts [][]float64
	c.ReuseRecord = true
	for {
		rec, err := c.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		genes = append(genes, rec[0])
		row := make([]float64, len(rec)-1)
		for j, f := range rec[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("gene %q, sample %q: %v", rec[0], samples[j], err)
			}
			row[j] = v
		}
		counts = append(counts, row)
	}
	return NewCountMatrix(genes, samples, counts)
}

// ReadMetadata parses a tab-separated sample table. The first column is
// the sample identifier; conditionCol names the condition column (default
// "condition", or the second column if no header match).
func ReadMetadata(r io.Reader, conditionCol string) (map[string]string, error) {
	if conditionCol == "" {
		conditionCol = "condition"
	}
	c := csv.NewReader(r)
	c.Comma = '\t'
	c.Comment = '#'

	header, err := c.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	col := -1
	for j, name := range header[1:] {
		if strings.EqualFold(name, conditionCol) {
			col = j + 1
			break
		}
	}
	if col < 0 {
		if len(header) < 2 {
			return nil, fmt.Errorf("metadata has no condition column")
		}
		col = 1
	}

	condition := map[string]string{}
	for {
		rec, err := c.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if len(rec) <= col {
			return nil, fmt.Errorf("metadata row for %q has %d columns, need %d", rec[0], len(rec), col+1)
		}
		if _, dup := condition[rec[0]]; dup {
			return nil, fmt.Errorf("duplicate metadata row for sample %q", rec[0])
		}
		condition[rec[0]] = rec[col]
	}
	return condition, nil
}

// WriteTSV writes the result table with the conventional column names.
// Untested genes get NA in the padj column; NaN statistics are NA too.
func (t *ResultTable) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "gene\tbaseMean\tlog2FoldChange\tlfcSE\tstat\tpvalue\tpadj\tsignificant\tstatus")
	for i := range t.Rows {
		r := &t.Rows[i]
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
			r.Gene,
			formatNum(r.BaseMean),
			formatNum(r.LFC),
			formatNum(r.SE),
			formatNum(r.Stat),
			formatNum(r.P),
			formatAdjP(r.AdjP),
			r.Significant,
			r.Status)
	}
	return bw.Flush()
}

func formatNum(v float64) string {
	if isNA(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func formatAdjP(p *float64) string {
	if p == nil {
		return "NA"
	}
	return formatNum(*p)
}

// openInput opens filename for reading, with "-" meaning stdin and a .gz
// suffix selecting transparent decompression.
func openInput(filename string, stdin io.Reader) (io.ReadCloser, error) {
	var in io.ReadCloser
	if filename == "-" {
		in = io.NopCloser(stdin)
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		in = f
	}
	if strings.HasSuffix(filename, ".gz") {
		gz, err := pgzip.NewReader(in)
		if err != nil {
			in.Close()
			return nil, err
		}
		return &gzReadCloser{gz: gz, raw: in}, nil
	}
	return in, nil
}

type gzReadCloser struct {
	gz  *pgzip.Reader
	raw io.ReadCloser
}

func (g *gzReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzReadCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
