// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// normalizecmd writes the size-factor-normalized count matrix, and
// optionally the size factors themselves, for downstream consumers that
// only need comparable expression values.
type normalizecmd struct{}

func (cmd *normalizecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "count matrix input `file` (TSV, .gz ok)")
	outputFilename := flags.String("o", "-", "normalized matrix output `file`")
	sfFilename := flags.String("size-factors", "", "also write size factors to `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	input, err := openInput(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	m, err := ReadCounts(input)
	input.Close()
	if err != nil {
		return 1
	}
	sf, err := EstimateSizeFactors(m)
	if err != nil {
		return 1
	}

	if *sfFilename != "" {
		err = writeSizeFactors(*sfFilename, m, sf)
		if err != nil {
			return 1
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	fmt.Fprintf(bufw, "gene\t%s\n", strings.Join(m.Samples(), "\t"))
	for i := 0; i < m.NGenes(); i++ {
		row := m.Normalized(i, sf)
		fields := make([]string, len(row))
		for j, v := range row {
			fields[j] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		fmt.Fprintf(bufw, "%s\t%s\n", m.Gene(i), strings.Join(fields, "\t"))
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func writeSizeFactors(filename string, m *CountMatrix, sf *SizeFactors) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0777)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, "sample\tsizeFactor")
	for j := 0; j < m.NSamples(); j++ {
		fmt.Fprintf(bufw, "%s\t%s\n", m.Sample(j), strconv.FormatFloat(sf.Factor(j), 'g', 6, 64))
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
