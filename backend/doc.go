// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects a gpuhal backend at runtime.
//
// Backend packages register a factory from their init() functions, so
// importing a backend makes it available:
//
//	import (
//		_ "github.com/gogpu/gpuhal/backend/stream/host"
//		_ "github.com/gogpu/gpuhal/backend/webgpu"
//	)
//
// # Backend Selection
//
// Use Default() to open the best available backend, or Open() to request
// a specific backend by name:
//
//	b, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	// Or request a specific backend
//	b, err := backend.Open(backend.BackendHost)
//
// # Available Backends
//
//   - "webgpu": command-buffer backend on gogpu/wgpu (Vulkan)
//   - "cuda": stream backend on the CUDA driver API (build tag cuda)
//   - "host": stream backend running kernels on the CPU (always available)
package backend
