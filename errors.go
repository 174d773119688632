// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package diffexpr

import (
	"fmt"
	"strings"
)

// AlignmentError reports a mismatch between the metadata's sample set and
// the count matrix's column set.
type AlignmentError struct {
	MissingFromMetadata []string // samples in the matrix with no metadata row
	MissingFromCounts   []string // metadata samples absent from the matrix
}

func (e *AlignmentError) Error() string {
	var parts []string
	if len(e.MissingFromMetadata) > 0 {
		parts = append(parts, fmt.Sprintf("samples missing from metadata: %s", strings.Join(e.MissingFromMetadata, ", ")))
	}
	if len(e.MissingFromCounts) > 0 {
		parts = append(parts, fmt.Sprintf("metadata samples missing from count matrix: %s", strings.Join(e.MissingFromCounts, ", ")))
	}
	return "sample alignment: " + strings.Join(parts, "; ")
}

// InvalidDesignError reports a condition factor that cannot support a
// two-level contrast.
type InvalidDesignError struct {
	Reason string
}

func (e *InvalidDesignError) Error() string {
	return "invalid design: " + e.Reason
}

// DegenerateInputError reports count data on which a stage cannot operate
// at all (as opposed to a single gene failing).
type DegenerateInputError struct {
	Stage  string
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return e.Stage + ": " + e.Reason
}

// DispersionFitError reports failure to fit the mean-dispersion trend. The
// trend is shared by every downstream stage, so this is fatal for the run.
type DispersionFitError struct {
	Reason string
}

func (e *DispersionFitError) Error() string {
	return "dispersion trend fit: " + e.Reason
}
