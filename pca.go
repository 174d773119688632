// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcacmd projects samples onto principal components of the log-transformed
// normalized counts. The output is coordinates only; plotting belongs to
// downstream consumers of the table.
type pcacmd struct{}

func (cmd *pcacmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "count matrix input `file` (TSV, .gz ok)")
	outputFilename := flags.String("o", "-", "sample coordinates output `file`")
	components := flags.Int("components", 2, "number of components")
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

	log.Printf("building %d×%d matrix", m.NGenes(), m.NSamples())
	data := make([]float64, m.NGenes()*m.NSamples())
	for i := 0; i < m.NGenes(); i++ {
		for j, v := range m.Normalized(i, sf) {
			data[i*m.NSamples()+j] = math.Log2(v + 1)
		}
	}
	mtx := mat.NewDense(m.NGenes(), m.NSamples(), data)

	log.Print("fitting")
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	log.Print("transforming")
	coords, err := transformer.Transform(mtx)
	if err != nil {
		return 1
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
	fmt.Fprint(bufw, "sample")
	nc, _ := coords.Dims()
	for c := 0; c < nc; c++ {
		fmt.Fprintf(bufw, "\tPC%d", c+1)
	}
	fmt.Fprintln(bufw)
	for j := 0; j < m.NSamples(); j++ {
		fmt.Fprint(bufw, m.Sample(j))
		for c := 0; c < nc; c++ {
			fmt.Fprintf(bufw, "\t%s", strconv.FormatFloat(coords.At(c, j), 'g', 6, 64))
		}
		fmt.Fprintln(bufw)
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
