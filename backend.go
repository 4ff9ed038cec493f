// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuhal/compiler"
)

// Binding locates a resource in a compiled function's layout.
type Binding = compiler.Binding

// BufferUsage is passed through to the backend unchanged. Legal
// combinations are backend-defined.
type BufferUsage = gputypes.BufferUsage

// Common usage sets.
const (
	// UsageStorage is the default for kernel inputs and outputs.
	UsageStorage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

	// UsageUniform is for small constant parameter blocks.
	UsageUniform = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst

	// UsageStaging is for host-mappable readback buffers.
	UsageStaging = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst

	// UsageIndirect is for buffers holding indirect dispatch arguments.
	UsageIndirect = gputypes.BufferUsageStorage | gputypes.BufferUsageIndirect | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
)

// Backend is the capability contract every execution model implements.
//
// A Backend owns a device and its queue (or a context and stream) for its
// whole lifetime. All methods are safe for concurrent use. The Encoder,
// Pass and Dispatch values it hands out are single-writer and consumed
// exactly once.
type Backend interface {
	// Name returns the registered backend name.
	Name() string

	// Target returns the compiler target whose code LoadModule accepts.
	Target() compiler.Target

	// Limits returns the device limits relevant to dispatch.
	Limits() Limits

	// LoadModule loads compiled code onto the device. Malformed code fails
	// with ErrCompileOrLoad.
	LoadModule(code []byte) (Module, error)

	// LoadFunction resolves an entry point of a loaded module. A missing
	// entry point fails with ErrFunctionNotFound.
	LoadFunction(m Module, entry string) (Function, error)

	// BeginEncoding opens a command-recording session.
	BeginEncoding() (Encoder, error)

	// BeginDispatch opens an argument-accumulation context bound to f
	// within pass p.
	BeginDispatch(p Pass, f Function) (Dispatch, error)

	// Submit enqueues the work recorded in e and returns without waiting
	// for the device. The encoder is consumed.
	Submit(e Encoder) error

	// Synchronize blocks until all previously submitted work completes.
	// Cancelling ctx abandons the wait; it does not abort device work.
	Synchronize(ctx context.Context) error

	// CreateBuffer allocates device memory. If desc.Contents is set the
	// buffer is initialized from it.
	CreateBuffer(desc BufferDescriptor) (RawBuffer, error)

	// WriteBuffer copies data into dst at offset. Writes are ordered before
	// work submitted afterwards.
	WriteBuffer(dst RawBuffer, offset uint64, data []byte) error

	// ReadBuffer reads len(dst) bytes at offset from a host-mappable
	// buffer, waiting for pending work that writes it.
	ReadBuffer(ctx context.Context, src RawBuffer, offset uint64, dst []byte) error

	// SlowReadBuffer reads from any buffer through a temporary staging
	// buffer: device copy, submit, mapped read.
	SlowReadBuffer(ctx context.Context, src RawBuffer, offset uint64, dst []byte) error

	// Close releases the device. Buffers and modules must not be used
	// afterwards.
	Close() error
}

// Limits are device limits that affect dispatch.
type Limits struct {
	// MaxWorkgroupsPerDimension is the largest grid extent on any axis.
	MaxWorkgroupsPerDimension uint32

	// MinBufferSize is the smallest allocation the backend makes; empty
	// buffers are rounded up to it.
	MinBufferSize uint64
}

// Module is a compiled program loaded onto a device.
type Module interface {
	// Destroy releases the module. Functions resolved from it become invalid.
	Destroy()
}

// Function is an entry point resolved from a Module.
type Function interface {
	// Entry returns the entry point name.
	Entry() string
}

// RawBuffer is an untyped device allocation.
type RawBuffer interface {
	// Size returns the allocation size in bytes.
	Size() uint64

	// Usage returns the usage flags the buffer was created with.
	Usage() BufferUsage

	// Destroy releases the device memory. It is idempotent.
	Destroy()
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label    string
	Size     uint64
	Usage    BufferUsage
	Contents []byte
}

// BufferRange is a byte range of a RawBuffer.
type BufferRange struct {
	Buffer RawBuffer
	Offset uint64
	Size   uint64
}

// Encoder records passes and copies for one submission.
type Encoder interface {
	// BeginPass opens a dispatch scope. Stream-style backends return the
	// stream itself.
	BeginPass(label string) (Pass, error)

	// CopyBufferToBuffer records a device-side copy.
	CopyBufferToBuffer(src RawBuffer, srcOffset uint64, dst RawBuffer, dstOffset, size uint64) error
}

// Pass is a dispatch scope nested in an Encoder.
type Pass interface {
	// End closes the pass. It is idempotent.
	End() error
}

// Dispatch accumulates arguments for a single kernel invocation.
type Dispatch interface {
	// SetBuffer binds r at binding b.
	SetBuffer(b Binding, r BufferRange) error

	// Launch records the invocation of grid thread-groups of block
	// threads each. Backends that bake the thread-group size into the
	// compiled code ignore block. The dispatch is consumed.
	Launch(grid Grid, block [3]uint32) error
}

// Grid is the extent of a dispatch in thread-groups, either supplied by
// the host or read from a device buffer when the work executes.
type Grid struct {
	direct   [3]uint32
	indirect *BufferRange
}

// DirectGrid returns a host-supplied grid.
func DirectGrid(x, y, z uint32) Grid {
	return Grid{direct: [3]uint32{x, y, z}}
}

// IndirectGrid returns a grid read from three little-endian uint32 values
// at r.Offset when the work executes.
func IndirectGrid(r BufferRange) Grid {
	return Grid{indirect: &r}
}

// IsIndirect reports whether the grid is read from a device buffer.
func (g Grid) IsIndirect() bool { return g.indirect != nil }

// Direct returns the host-supplied extent.
func (g Grid) Direct() [3]uint32 { return g.direct }

// Indirect returns the buffer range holding the extent.
func (g Grid) Indirect() BufferRange {
	if g.indirect == nil {
		return BufferRange{}
	}
	return *g.indirect
}

// IsEmpty reports whether a direct grid has a zero axis. Launching an
// empty grid succeeds without device work.
func (g Grid) IsEmpty() bool {
	return g.indirect == nil && (g.direct[0] == 0 || g.direct[1] == 0 || g.direct[2] == 0)
}

// String returns "[x y z]" or "indirect(offset)".
func (g Grid) String() string {
	if g.indirect != nil {
		return fmt.Sprintf("indirect(+%d)", g.indirect.Offset)
	}
	return fmt.Sprintf("%v", g.direct)
}

// LogValue implements slog.LogValuer.
func (g Grid) LogValue() slog.Value {
	return slog.StringValue(g.String())
}
