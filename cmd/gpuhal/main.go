// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command gpuhal inspects, compiles and runs compute kernels on the
// registered gpuhal backends.
//
// Usage:
//
//	gpuhal backends [--open]
//	gpuhal reflect <file.wgsl>
//	gpuhal compile <module> [--entry main] [--target spirv] [-o out] [-D NAME=VALUE]
//	gpuhal run add [--n 10000] [--backend host]
//
// Settings may also come from a config file (--config) or from GPUHAL_*
// environment variables, e.g. GPUHAL_BACKEND=host.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gpuhal:", err)
		os.Exit(1)
	}
}
