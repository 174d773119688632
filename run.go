// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	log "github.com/sirupsen/logrus"
)

// runcmd is the full pipeline: counts + metadata in, result table out.
type runcmd struct{}

func (cmd *runcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "count matrix input `file` (TSV, .gz ok)")
	metaFilename := flags.String("m", "", "sample metadata `file` (TSV, .gz ok)")
	outputFilename := flags.String("o", "-", "result table output `file`")
	conditionCol := flags.String("condition-col", "condition", "metadata `column` holding the condition factor")
	base := flags.String("base", "", "reference condition `level`")
	treatment := flags.String("treatment", "", "treatment condition `level`")
	alpha := flags.Float64("alpha", 0.1, "target false discovery rate")
	lfcThreshold := flags.Float64("lfc-threshold", 0, "null-hypothesis boundary on |log2 fold change|")
	noShrink := flags.Bool("no-shrink", false, "report raw MLE fold changes instead of shrunk estimates")
	workers := flags.Int("workers", 0, "max concurrent gene fits (default GOMAXPROCS)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}
	if *metaFilename == "" {
		err = errors.New("-m metadata file is required")
		return 2
	}
	if *base == "" || *treatment == "" {
		err = errors.New("-base and -treatment levels are required")
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
	log.Infof("%d genes × %d samples", m.NGenes(), m.NSamples())

	meta, err := openInput(*metaFilename, stdin)
	if err != nil {
		return 1
	}
	condition, err := ReadMetadata(meta, *conditionCol)
	meta.Close()
	if err != nil {
		return 1
	}
	design, err := NewDesign(condition, *base, *treatment)
	if err != nil {
		return 1
	}

	table, err := Run(m, design, Params{
		Alpha:        *alpha,
		LFCThreshold: *lfcThreshold,
		SkipShrink:   *noShrink,
		Workers:      *workers,
	})
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
	err = table.WriteTSV(output)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
