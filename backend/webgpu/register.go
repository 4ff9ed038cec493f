// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend"
)

func init() {
	backend.Register(backend.BackendWebGPU, func() (gpuhal.Backend, error) {
		return New()
	})
}
