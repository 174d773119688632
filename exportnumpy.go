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

	"github.com/kshedden/gonpy"
)

// exportNumpy writes the (optionally normalized) count matrix as a .npy
// array, genes × samples, for numpy/scanpy consumers. Row and column
// labels go to sidecar files next to the array.
type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "count matrix input `file` (TSV, .gz ok)")
	outputFilename := flags.String("o", "-", "output `file` (.npy)")
	raw := flags.Bool("raw", false, "write raw counts without size-factor normalization")
	labels := flags.String("labels", "", "write gene/sample labels to `prefix`.genes and `prefix`.samples")
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

	rows, cols := m.NGenes(), m.NSamples()
	out := make([]float64, rows*cols)
	if *raw {
		for i := 0; i < rows; i++ {
			copy(out[i*cols:], m.Counts(i))
		}
	} else {
		var sf *SizeFactors
		sf, err = EstimateSizeFactors(m)
		if err != nil {
			return 1
		}
		for i := 0; i < rows; i++ {
			copy(out[i*cols:], m.Normalized(i, sf))
		}
	}

	if *labels != "" {
		err = writeLines(*labels+".genes", m.Genes())
		if err != nil {
			return 1
		}
		err = writeLines(*labels+".samples", m.Samples())
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
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
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

func writeLines(filename string, lines []string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0777)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(bufw, line)
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
