// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend/stream/host"
)

// addShaders is the kernel set of the run add command.
type addShaders struct {
	Add *gpuhal.CompiledFunction `shader:"add:main"`
}

// addArgs binds the parameters of shaders/add.wgsl by name.
type addArgs struct {
	Params *gpuhal.Buffer[uint32]
	A      *gpuhal.Buffer[float32]
	B      *gpuhal.Buffer[float32]
	Out    *gpuhal.Buffer[float32]
}

func init() {
	host.Register("add", "main", addKernel)
}

// addKernel is the host rendition of shaders/add.wgsl. Arguments arrive in
// binding order: params, a, b, out.
func addKernel(tid host.ThreadID, args [][]byte) {
	n := host.Uint32s(args[0])[0]
	a, b, out := host.Float32s(args[1]), host.Float32s(args[2]), host.Float32s(args[3])
	for i := tid.Global(); i < n; i += tid.GridThreads() {
		out[i] = a[i] + b[i]
	}
}
