// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpuhal is a hardware abstraction layer for GPU compute.
//
// # Overview
//
// A [Backend] hides the execution model of a device behind one contract:
// load compiled modules, allocate buffers, record dispatches into an
// [Encoder], submit and synchronize. Two execution models are provided:
//
//   - backend/webgpu records command buffers on gogpu/wgpu's HAL, the same
//     device layer the gogpu stack renders with.
//   - backend/stream issues launches in order on a stream. Its drivers run
//     kernels on host goroutines (backend/stream/host) or on the CUDA
//     driver API (backend/stream/cuda, built with cgo and the cuda tag).
//
// Backends register themselves with package backend when imported.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpuhal"
//	    "github.com/gogpu/gpuhal/backend"
//	    "github.com/gogpu/gpuhal/compiler"
//	    "github.com/gogpu/gpuhal/compiler/wgsl"
//	    _ "github.com/gogpu/gpuhal/backend/stream/host"
//	)
//
//	b, _ := backend.Default()
//	defer b.Close()
//
//	c := wgsl.NewCompiler(compiler.NewSession(compiler.WithSearchPath("shaders")))
//	add, _ := gpuhal.CompileFunction(ctx, b, c, "add", "main")
//	defer add.Destroy()
//
//	a, _ := gpuhal.InitBuffer(b, []float32{1, 2, 3}, gpuhal.UsageStorage)
//	out, _ := gpuhal.UninitBuffer[float32](b, 3, gpuhal.UsageStorage)
//
//	enc, _ := b.BeginEncoding()
//	pass, _ := enc.BeginPass("add")
//	_ = add.LaunchCapped(pass, gpuhal.Args{"a": a, "out": out}, 3)
//	_ = pass.End()
//	_ = b.Submit(enc)
//
//	sum, _ := gpuhal.SlowReadVec(ctx, b, out.All())
//
// # Buffers
//
// [Buffer] is a typed allocation of plain values, [Slice] a view into one.
// Plain element types hold no pointers and are copied byte for byte.
// Values whose device layout differs from Go's (vec3 padding, matrix
// columns) are stored encased: they implement [ShaderType] and are
// serialized with package layout at a stride the device expects. Plain
// and encased access never mix on one buffer.
//
// # Arguments
//
// A [CompiledFunction] knows its thread-group size and the ordered list of
// named parameters reflected from the shader. Launch asks an [Arg] for
// each parameter by name; [Args], [Optional], [Struct] and the buffer
// types implement the protocol. A parameter nothing binds fails with
// [ErrArgNotFound].
//
// [LoadShaders] fills a struct of *CompiledFunction fields from their
// `shader:"module:entry"` tags.
//
// # Errors
//
// Every failure wraps one of the sentinel errors in errors.go, so callers
// branch with errors.Is. Device failures carry [ErrDevice]; misuse of the
// API carries [ErrContract].
//
// # Logging
//
// gpuhal is silent by default. See [SetLogger].
package gpuhal
