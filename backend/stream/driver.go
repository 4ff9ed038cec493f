// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package stream

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuhal/compiler"
)

// ErrKernelNotFound is returned by Driver.Function when a module has no
// kernel with the requested name.
var ErrKernelNotFound = errors.New("stream: kernel not found")

// Dim3 is a grid or block extent, as in CUDA's dim3.
type Dim3 struct {
	X, Y, Z uint32
}

// Size returns X*Y*Z.
func (d Dim3) Size() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// Min returns the smallest of X, Y and Z.
func (d Dim3) Min() uint32 {
	return min(d.X, d.Y, d.Z)
}

// String returns "(x, y, z)".
func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// DevicePtr is an address in device memory.
type DevicePtr uint64

// KernelArg is one positional kernel argument: a device pointer and the
// number of bytes the kernel may access through it.
type KernelArg struct {
	Ptr  DevicePtr
	Size uint64
}

// DriverModule is a module loaded by a Driver.
type DriverModule interface {
	Unload() error
}

// DriverFunction is a kernel resolved from a DriverModule.
type DriverFunction interface {
	Name() string
}

// Driver is the device interface the stream backend runs on: a context
// with one ordered stream, shaped after the CUDA driver API.
//
// Launches, device-to-device copies and host-to-device copies are
// enqueued on the stream and may return before they execute.
// CopyDtoH and Synchronize block until everything enqueued before them
// has completed. Drivers are safe for concurrent use.
type Driver interface {
	// Name identifies the device.
	Name() string

	// Target is the compiler target LoadModule accepts.
	Target() compiler.Target

	// MaxGridDim is the largest grid extent per axis.
	MaxGridDim() Dim3

	LoadModule(code []byte) (DriverModule, error)
	Function(m DriverModule, name string) (DriverFunction, error)

	Alloc(size uint64) (DevicePtr, error)
	Free(p DevicePtr) error

	CopyHtoD(dst DevicePtr, src []byte) error
	CopyDtoH(dst []byte, src DevicePtr) error
	CopyDtoD(dst, src DevicePtr, size uint64) error

	Launch(fn DriverFunction, grid, block Dim3, args []KernelArg) error
	Synchronize() error

	Close() error
}
