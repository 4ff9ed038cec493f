// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/internal/metrics"
)

// errMapPending is returned when a read is issued on a buffer whose
// previous read has not completed.
var errMapPending = errors.New("webgpu: buffer mapping is pending")

type buffer struct {
	b     *Backend
	raw   hal.Buffer
	label string
	size  uint64
	usage gputypes.BufferUsage

	mapping   atomic.Bool
	destroyed atomic.Bool
}

func (buf *buffer) Size() uint64                { return buf.size }
func (buf *buffer) Usage() gputypes.BufferUsage { return buf.usage }

// Raw returns the HAL buffer.
func (buf *buffer) Raw() hal.Buffer { return buf.raw }

// Destroy releases the buffer after submitted work that may use it.
func (buf *buffer) Destroy() {
	if buf.destroyed.Swap(true) {
		return
	}
	b := buf.b
	b.release(func() {
		b.device.DestroyBuffer(buf.raw)
		metrics.BuffersLive.WithLabelValues(b.Name()).Dec()
	})
}

func (b *Backend) buffer(r gpuhal.RawBuffer) (*buffer, error) {
	buf, ok := r.(*buffer)
	if !ok || buf.b != b {
		return nil, fmt.Errorf("%w: buffer %T does not belong to %s", gpuhal.ErrContract, r, b.Name())
	}
	if buf.destroyed.Load() {
		return nil, fmt.Errorf("%w: buffer %q used after Destroy", gpuhal.ErrContract, buf.label)
	}
	return buf, nil
}

func checkRange(buf *buffer, offset, n uint64) error {
	if offset > buf.size || n > buf.size-offset {
		return fmt.Errorf("%w: range [%d, %d) outside buffer %q of %d bytes",
			gpuhal.ErrContract, offset, offset+n, buf.label, buf.size)
	}
	return nil
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}

// CreateBuffer implements gpuhal.Backend. Sizes are rounded up to a
// multiple of 4 bytes. Initial contents are written through the queue, so
// CopyDst is added to the usage unless the buffer is host-writable.
func (b *Backend) CreateBuffer(desc gpuhal.BufferDescriptor) (gpuhal.RawBuffer, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	size := alignUp(max(desc.Size, uint64(len(desc.Contents)), copyAlignment), copyAlignment)
	usage := desc.Usage
	if b.cfg.forceCopySrc && usage&gputypes.BufferUsageMapRead == 0 {
		usage |= gputypes.BufferUsageCopySrc
	}
	if len(desc.Contents) > 0 && usage&gputypes.BufferUsageMapWrite == 0 {
		usage |= gputypes.BufferUsageCopyDst
	}

	label := b.cfg.label(desc.Label)
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create buffer %q of %d bytes: %w", gpuhal.ErrDevice, label, size, err)
	}
	metrics.BuffersLive.WithLabelValues(b.Name()).Inc()
	buf := &buffer{b: b, raw: raw, label: label, size: size, usage: usage}

	if len(desc.Contents) > 0 {
		data := desc.Contents
		if n := alignUp(uint64(len(data)), copyAlignment); n != uint64(len(data)) {
			data = make([]byte, n)
			copy(data, desc.Contents)
		}
		b.queue.WriteBuffer(raw, 0, data)
		metrics.BytesWritten.WithLabelValues(b.Name()).Add(float64(len(desc.Contents)))
	}
	return buf, nil
}

// WriteBuffer implements gpuhal.Backend. The write is queued and lands
// before any work submitted afterwards. offset and len(data) must be
// multiples of 4.
func (b *Backend) WriteBuffer(dst gpuhal.RawBuffer, offset uint64, data []byte) error {
	buf, err := b.buffer(dst)
	if err != nil {
		return err
	}
	if err := checkRange(buf, offset, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if offset%copyAlignment != 0 || len(data)%copyAlignment != 0 {
		return fmt.Errorf("%w: write of %d bytes at offset %d is not 4-byte aligned",
			gpuhal.ErrContract, len(data), offset)
	}
	if buf.usage&gputypes.BufferUsageCopyDst == 0 {
		return fmt.Errorf("%w: buffer %q lacks CopyDst usage", gpuhal.ErrContract, buf.label)
	}
	b.queue.WriteBuffer(buf.raw, offset, data)
	metrics.BytesWritten.WithLabelValues(b.Name()).Add(float64(len(data)))
	return nil
}

// ReadBuffer implements gpuhal.Backend. src must have MapRead usage. All
// submitted work is waited for before the read.
func (b *Backend) ReadBuffer(ctx context.Context, src gpuhal.RawBuffer, offset uint64, dst []byte) error {
	buf, err := b.buffer(src)
	if err != nil {
		return err
	}
	if err := checkRange(buf, offset, uint64(len(dst))); err != nil {
		return err
	}
	if buf.usage&gputypes.BufferUsageMapRead == 0 {
		return fmt.Errorf("%w: buffer %q lacks MapRead usage; use SlowReadBuffer",
			gpuhal.ErrContract, buf.label)
	}
	if len(dst) == 0 {
		return nil
	}
	if err := b.Synchronize(ctx); err != nil {
		return err
	}
	return b.mappedRead(ctx, buf, offset, dst, "ReadBuffer", nil)
}

// mappedRead reads a host-visible buffer. At most one read per buffer is
// in flight; a read abandoned through ctx still completes in the
// background, clears the mapping state and then runs after.
func (b *Backend) mappedRead(ctx context.Context, buf *buffer, offset uint64, dst []byte, op string, after func()) error {
	if !buf.mapping.CompareAndSwap(false, true) {
		if after != nil {
			after()
		}
		return fmt.Errorf("%w: %w: %q", gpuhal.ErrContract, errMapPending, buf.label)
	}
	tmp := make([]byte, len(dst))
	err := b.await(ctx, op, func() error {
		defer func() {
			buf.mapping.Store(false)
			if after != nil {
				after()
			}
		}()
		return b.queue.ReadBuffer(buf.raw, offset, tmp)
	}, attribute.String("buffer", buf.label), attribute.Int("bytes", len(dst)))
	if err != nil {
		return err
	}
	copy(dst, tmp)
	metrics.BytesRead.WithLabelValues(b.Name()).Add(float64(len(dst)))
	return nil
}

// SlowReadBuffer implements gpuhal.Backend. The range is copied into a
// temporary MapRead buffer on the device and read from there, so src needs
// CopySrc usage (see WithForceCopySrc).
func (b *Backend) SlowReadBuffer(ctx context.Context, src gpuhal.RawBuffer, offset uint64, dst []byte) error {
	buf, err := b.buffer(src)
	if err != nil {
		return err
	}
	if err := checkRange(buf, offset, uint64(len(dst))); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if buf.usage&gputypes.BufferUsageCopySrc == 0 {
		return fmt.Errorf("%w: buffer %q lacks CopySrc usage", gpuhal.ErrContract, buf.label)
	}
	if offset%copyAlignment != 0 {
		return fmt.Errorf("%w: read at offset %d is not 4-byte aligned", gpuhal.ErrContract, offset)
	}
	n := min(alignUp(uint64(len(dst)), copyAlignment), buf.size-offset)

	staging, err := b.CreateBuffer(gpuhal.BufferDescriptor{
		Label: "staging",
		Size:  n,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	sb := staging.(*buffer)

	if err := b.copyOut(buf, offset, sb, n); err != nil {
		staging.Destroy()
		return err
	}
	if err := b.Synchronize(ctx); err != nil {
		staging.Destroy()
		return err
	}
	return b.mappedRead(ctx, sb, 0, dst, "SlowReadBuffer", staging.Destroy)
}

// copyOut submits a copy of n bytes of src at offset into dst.
func (b *Backend) copyOut(src *buffer, offset uint64, dst *buffer, n uint64) error {
	label := b.cfg.label("readback")
	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("%w: create command encoder: %w", gpuhal.ErrDevice, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("%w: begin encoding: %w", gpuhal.ErrDevice, err)
	}
	enc.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: n},
	})
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %w", gpuhal.ErrDevice, err)
	}
	return b.submit(&submission{label: label, cmdBuf: cmdBuf})
}
