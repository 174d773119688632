// Copyright (C) The Diffexpr Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/Alejandro2195/diffexpr"
)

func main() {
	diffexpr.Main()
}
