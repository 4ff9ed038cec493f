// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend"
	"github.com/gogpu/gpuhal/backend/stream"
)

func init() {
	backend.Register(backend.BackendHost, func() (gpuhal.Backend, error) {
		return New(), nil
	})
}

// New returns a stream backend running on a new host driver.
func New(opts ...Option) *stream.Backend {
	d := NewDriver(opts...)
	gpuhal.Logger().Debug("host: driver started", "features", d.Features())
	return stream.New(d, stream.WithName(backend.BackendHost))
}
