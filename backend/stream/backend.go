// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stream implements gpuhal.Backend for stream-ordered devices:
// kernels take positional pointer arguments and are launched with an
// explicit grid and block size on a single in-order stream.
//
// The device itself is abstracted by Driver. The host package provides a
// CPU driver; the cuda package provides the CUDA driver API.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/internal/metrics"
)

var tracer = otel.Tracer("github.com/gogpu/gpuhal/backend/stream")

// Backend runs gpuhal work on a Driver.
//
// Recording is eager: copies and launches go onto the driver's stream as
// they are recorded, so Submit only retires the encoder. Ordering between
// recorded work, WriteBuffer and reads is the stream order.
type Backend struct {
	drv  Driver
	cfg  config
	name string

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ gpuhal.Backend = (*Backend)(nil)

// New returns a backend over drv. The backend owns drv and closes it on
// Close.
func New(drv Driver, opts ...Option) *Backend {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	name := cfg.name
	if name == "" {
		name = drv.Name()
	}
	return &Backend{drv: drv, cfg: cfg, name: name}
}

// Driver returns the underlying driver.
func (b *Backend) Driver() Driver { return b.drv }

// Name implements gpuhal.Backend.
func (b *Backend) Name() string { return b.name }

// Target implements gpuhal.Backend.
func (b *Backend) Target() compiler.Target { return b.drv.Target() }

// Limits implements gpuhal.Backend.
func (b *Backend) Limits() gpuhal.Limits {
	return gpuhal.Limits{
		MaxWorkgroupsPerDimension: b.drv.MaxGridDim().Min(),
		MinBufferSize:             b.cfg.minBufferSize,
	}
}

func (b *Backend) checkOpen() error {
	if b.closed.Load() {
		return fmt.Errorf("%w: backend %s is closed", gpuhal.ErrDevice, b.name)
	}
	return nil
}

type module struct {
	b    *Backend
	dm   DriverModule
	once sync.Once
}

func (m *module) Destroy() {
	m.once.Do(func() {
		if err := m.dm.Unload(); err != nil {
			gpuhal.Logger().Warn("stream: module unload failed", "backend", m.b.name, "err", err)
		}
	})
}

type function struct {
	b     *Backend
	entry string
	fn    DriverFunction
}

func (f *function) Entry() string { return f.entry }

// LoadModule implements gpuhal.Backend.
func (b *Backend) LoadModule(code []byte) (gpuhal.Module, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	dm, err := b.drv.LoadModule(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", gpuhal.ErrCompileOrLoad, b.name, err)
	}
	return &module{b: b, dm: dm}, nil
}

// LoadFunction implements gpuhal.Backend.
func (b *Backend) LoadFunction(m gpuhal.Module, entry string) (gpuhal.Function, error) {
	mod, ok := m.(*module)
	if !ok || mod.b != b {
		return nil, fmt.Errorf("%w: module %T was not loaded by %s", gpuhal.ErrContract, m, b.name)
	}
	fn, err := b.drv.Function(mod.dm, entry)
	switch {
	case errors.Is(err, ErrKernelNotFound):
		return nil, fmt.Errorf("%w: %s: %w", gpuhal.ErrFunctionNotFound, entry, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", gpuhal.ErrCompileOrLoad, entry, err)
	}
	return &function{b: b, entry: entry, fn: fn}, nil
}

type buffer struct {
	b         *Backend
	ptr       DevicePtr
	size      uint64
	usage     gpuhal.BufferUsage
	destroyed atomic.Bool
}

func (buf *buffer) Size() uint64              { return buf.size }
func (buf *buffer) Usage() gpuhal.BufferUsage { return buf.usage }

// Ptr returns the device address of the allocation.
func (buf *buffer) Ptr() DevicePtr { return buf.ptr }

func (buf *buffer) Destroy() {
	if buf.destroyed.Swap(true) {
		return
	}
	metrics.BuffersLive.WithLabelValues(buf.b.name).Dec()
	if buf.b.closed.Load() {
		return
	}
	if err := buf.b.drv.Free(buf.ptr); err != nil {
		gpuhal.Logger().Warn("stream: free failed", "backend", buf.b.name, "err", err)
	}
}

func (b *Backend) buffer(r gpuhal.RawBuffer) (*buffer, error) {
	buf, ok := r.(*buffer)
	if !ok || buf.b != b {
		return nil, fmt.Errorf("%w: buffer %T does not belong to %s", gpuhal.ErrContract, r, b.name)
	}
	if buf.destroyed.Load() {
		return nil, fmt.Errorf("%w: buffer used after Destroy", gpuhal.ErrContract)
	}
	return buf, nil
}

func checkRange(buf *buffer, offset, n uint64) error {
	if offset > buf.size || n > buf.size-offset {
		return fmt.Errorf("%w: range [%d, %d) outside buffer of %d bytes",
			gpuhal.ErrContract, offset, offset+n, buf.size)
	}
	return nil
}

// CreateBuffer implements gpuhal.Backend.
func (b *Backend) CreateBuffer(desc gpuhal.BufferDescriptor) (gpuhal.RawBuffer, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	size := max(desc.Size, uint64(len(desc.Contents)), b.cfg.minBufferSize)
	ptr, err := b.drv.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: alloc %d bytes for %q: %w", gpuhal.ErrDevice, size, desc.Label, err)
	}
	buf := &buffer{b: b, ptr: ptr, size: size, usage: desc.Usage}
	metrics.BuffersLive.WithLabelValues(b.name).Inc()
	if len(desc.Contents) > 0 {
		if err := b.drv.CopyHtoD(ptr, desc.Contents); err != nil {
			buf.Destroy()
			return nil, fmt.Errorf("%w: initialize %q: %w", gpuhal.ErrDevice, desc.Label, err)
		}
		metrics.BytesWritten.WithLabelValues(b.name).Add(float64(len(desc.Contents)))
	}
	return buf, nil
}

// WriteBuffer implements gpuhal.Backend.
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
	if err := b.drv.CopyHtoD(buf.ptr+DevicePtr(offset), data); err != nil {
		return fmt.Errorf("%w: write: %w", gpuhal.ErrDevice, err)
	}
	metrics.BytesWritten.WithLabelValues(b.name).Add(float64(len(data)))
	return nil
}

// ReadBuffer implements gpuhal.Backend. Stream devices copy any allocation
// back to the host, so src needs no particular usage.
func (b *Backend) ReadBuffer(ctx context.Context, src gpuhal.RawBuffer, offset uint64, dst []byte) error {
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
	tmp := make([]byte, len(dst))
	err = b.wait(ctx, "ReadBuffer", func() error {
		return b.drv.CopyDtoH(tmp, buf.ptr+DevicePtr(offset))
	}, attribute.Int("bytes", len(dst)))
	if err != nil {
		return err
	}
	copy(dst, tmp)
	metrics.BytesRead.WithLabelValues(b.name).Add(float64(len(dst)))
	return nil
}

// SlowReadBuffer implements gpuhal.Backend by copying the range into a
// temporary allocation on the stream and reading that back.
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
	n := uint64(len(dst))
	staging, err := b.drv.Alloc(max(n, b.cfg.minBufferSize))
	if err != nil {
		return fmt.Errorf("%w: staging alloc: %w", gpuhal.ErrDevice, err)
	}
	if err := b.drv.CopyDtoD(staging, buf.ptr+DevicePtr(offset), n); err != nil {
		_ = b.drv.Free(staging)
		return fmt.Errorf("%w: staging copy: %w", gpuhal.ErrDevice, err)
	}

	tmp := make([]byte, n)
	err = b.wait(ctx, "SlowReadBuffer", func() error {
		defer func() { _ = b.drv.Free(staging) }()
		return b.drv.CopyDtoH(tmp, staging)
	}, attribute.Int("bytes", len(dst)))
	if err != nil {
		return err
	}
	copy(dst, tmp)
	metrics.BytesRead.WithLabelValues(b.name).Add(float64(len(dst)))
	return nil
}

// Synchronize implements gpuhal.Backend.
func (b *Backend) Synchronize(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.wait(ctx, "Synchronize", b.drv.Synchronize)
}

// wait runs a blocking driver call and returns when it finishes or ctx is
// done, whichever comes first. The call keeps running after cancellation;
// its result is dropped. Synchronize is observed in SyncSeconds, reads in
// ReadSeconds.
func (b *Backend) wait(ctx context.Context, op string, call func() error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "stream."+op, trace.WithAttributes(
		append(attrs, attribute.String("backend", b.name))...))
	defer span.End()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		b.observeWait(op, time.Since(start))
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %s: %w", gpuhal.ErrDevice, op, err)
		}
		return nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return ctx.Err()
	}
}

func (b *Backend) observeWait(op string, d time.Duration) {
	if op == "Synchronize" {
		metrics.SyncSeconds.WithLabelValues(b.name).Observe(d.Seconds())
		return
	}
	metrics.ReadSeconds.WithLabelValues(b.name, op).Observe(d.Seconds())
}

// Close implements gpuhal.Backend.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if cerr := b.drv.Close(); cerr != nil {
			err = fmt.Errorf("%w: close %s: %w", gpuhal.ErrDevice, b.name, cerr)
		}
		gpuhal.Logger().Debug("stream: backend closed", "backend", b.name)
	})
	return err
}

type encoder struct {
	b        *Backend
	mu       sync.Mutex
	consumed bool
	pass     *pass
}

type pass struct {
	enc   *encoder
	label string
	ended atomic.Bool
}

func (p *pass) End() error {
	p.ended.Store(true)
	return nil
}

// BeginEncoding implements gpuhal.Backend.
func (b *Backend) BeginEncoding() (gpuhal.Encoder, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return &encoder{b: b}, nil
}

func (e *encoder) BeginPass(label string) (gpuhal.Pass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return nil, gpuhal.ErrEncoderConsumed
	}
	if e.pass != nil && !e.pass.ended.Load() {
		return nil, fmt.Errorf("%w: pass %q is still open", gpuhal.ErrContract, e.pass.label)
	}
	e.pass = &pass{enc: e, label: label}
	return e.pass, nil
}

func (e *encoder) CopyBufferToBuffer(src gpuhal.RawBuffer, srcOffset uint64, dst gpuhal.RawBuffer, dstOffset, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return gpuhal.ErrEncoderConsumed
	}
	if e.pass != nil && !e.pass.ended.Load() {
		return fmt.Errorf("%w: copy recorded inside pass %q", gpuhal.ErrContract, e.pass.label)
	}
	s, err := e.b.buffer(src)
	if err != nil {
		return err
	}
	d, err := e.b.buffer(dst)
	if err != nil {
		return err
	}
	if err := checkRange(s, srcOffset, size); err != nil {
		return err
	}
	if err := checkRange(d, dstOffset, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := e.b.drv.CopyDtoD(d.ptr+DevicePtr(dstOffset), s.ptr+DevicePtr(srcOffset), size); err != nil {
		return fmt.Errorf("%w: copy: %w", gpuhal.ErrDevice, err)
	}
	return nil
}

// Submit implements gpuhal.Backend.
func (b *Backend) Submit(e gpuhal.Encoder) error {
	enc, ok := e.(*encoder)
	if !ok || enc.b != b {
		return fmt.Errorf("%w: encoder %T does not belong to %s", gpuhal.ErrContract, e, b.name)
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.consumed {
		return gpuhal.ErrEncoderConsumed
	}
	if enc.pass != nil && !enc.pass.ended.Load() {
		return fmt.Errorf("%w: pass %q not ended before submit", gpuhal.ErrContract, enc.pass.label)
	}
	enc.consumed = true
	metrics.Submissions.WithLabelValues(b.name).Inc()
	return nil
}

type dispatch struct {
	b        *Backend
	fn       *function
	args     []KernelArg
	launched bool
}

// BeginDispatch implements gpuhal.Backend.
func (b *Backend) BeginDispatch(p gpuhal.Pass, f gpuhal.Function) (gpuhal.Dispatch, error) {
	ps, ok := p.(*pass)
	if !ok || ps.enc.b != b {
		return nil, fmt.Errorf("%w: pass %T does not belong to %s", gpuhal.ErrContract, p, b.name)
	}
	if ps.ended.Load() {
		return nil, fmt.Errorf("%w: pass %q already ended", gpuhal.ErrContract, ps.label)
	}
	fn, ok := f.(*function)
	if !ok || fn.b != b {
		return nil, fmt.Errorf("%w: function %T was not loaded by %s", gpuhal.ErrContract, f, b.name)
	}
	return &dispatch{b: b, fn: fn}, nil
}

// SetBuffer appends r as the next positional kernel argument. Arguments
// are passed in the order they are set, which CompiledFunction.Bind makes
// the layout order.
func (d *dispatch) SetBuffer(_ gpuhal.Binding, r gpuhal.BufferRange) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	buf, err := d.b.buffer(r.Buffer)
	if err != nil {
		return err
	}
	if err := checkRange(buf, r.Offset, r.Size); err != nil {
		return err
	}
	d.args = append(d.args, KernelArg{Ptr: buf.ptr + DevicePtr(r.Offset), Size: r.Size})
	return nil
}

func (d *dispatch) Launch(grid gpuhal.Grid, block [3]uint32) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	d.launched = true

	g := grid.Direct()
	if grid.IsIndirect() {
		var err error
		if g, err = d.readIndirect(grid.Indirect()); err != nil {
			return err
		}
	}
	if g[0] == 0 || g[1] == 0 || g[2] == 0 {
		return nil
	}
	if lim := d.b.drv.MaxGridDim(); g[0] > lim.X || g[1] > lim.Y || g[2] > lim.Z {
		return fmt.Errorf("%w: grid %v exceeds device limit %s", gpuhal.ErrContract, g, lim)
	}

	err := d.b.drv.Launch(d.fn.fn,
		Dim3{X: g[0], Y: g[1], Z: g[2]},
		Dim3{X: block[0], Y: block[1], Z: block[2]},
		d.args)
	if err != nil {
		return fmt.Errorf("%w: launch %s: %w", gpuhal.ErrDevice, d.fn.entry, err)
	}
	return nil
}

// readIndirect drains the stream and reads the grid from device memory.
// Stream devices have no native indirect launch.
func (d *dispatch) readIndirect(r gpuhal.BufferRange) ([3]uint32, error) {
	if !d.b.cfg.emulateIndir {
		return [3]uint32{}, fmt.Errorf("%w: indirect launch on %s", gpuhal.ErrUnsupported, d.b.name)
	}
	buf, err := d.b.buffer(r.Buffer)
	if err != nil {
		return [3]uint32{}, err
	}
	if err := checkRange(buf, r.Offset, 12); err != nil {
		return [3]uint32{}, err
	}
	var raw [12]byte
	if err := d.b.drv.CopyDtoH(raw[:], buf.ptr+DevicePtr(r.Offset)); err != nil {
		return [3]uint32{}, fmt.Errorf("%w: read indirect grid: %w", gpuhal.ErrDevice, err)
	}
	return [3]uint32{
		binary.LittleEndian.Uint32(raw[0:]),
		binary.LittleEndian.Uint32(raw[4:]),
		binary.LittleEndian.Uint32(raw[8:]),
	}, nil
}
