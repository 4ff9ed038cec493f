// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !cuda || !cgo

package cuda

import (
	"fmt"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend/stream"
)

// Driver is unavailable in builds without the cuda tag.
type Driver struct {
	stream.Driver
}

// Available reports false: CUDA support was not compiled in.
func Available() bool { return false }

// NewDriver fails in builds without the cuda tag.
func NewDriver(ordinal int) (*Driver, error) {
	return nil, fmt.Errorf("%w: CUDA support requires cgo and the cuda build tag (device %d)",
		gpuhal.ErrUnsupported, ordinal)
}
