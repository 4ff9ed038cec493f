// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cuda provides a stream.Driver on the CUDA driver API and
// registers it as the "cuda" backend.
//
// The driver is compiled only with cgo and the cuda build tag; otherwise
// NewDriver reports gpuhal.ErrUnsupported and the backend never opens.
// Kernels are loaded as PTX (compiler.TargetPTX).
package cuda

import (
	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend"
	"github.com/gogpu/gpuhal/backend/stream"
)

func init() {
	backend.Register(backend.BackendCUDA, func() (gpuhal.Backend, error) {
		return New(0)
	})
}

// New opens device ordinal as a stream backend.
func New(ordinal int, opts ...stream.Option) (*stream.Backend, error) {
	d, err := NewDriver(ordinal)
	if err != nil {
		return nil, err
	}
	gpuhal.Logger().Info("cuda: device opened", "device", d.Name(), "ordinal", ordinal)
	return stream.New(d, append([]stream.Option{stream.WithName(backend.BackendCUDA)}, opts...)...), nil
}
