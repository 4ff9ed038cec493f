// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package webgpu implements gpuhal.Backend on the gogpu/wgpu HAL: WGSL
// modules are compiled to SPIR-V with naga, arguments are attached through
// bind groups, and work is recorded into command buffers that are submitted
// to a single queue.
//
// Submission does not wait. Every submitted command buffer carries its own
// fence; Synchronize and the read operations wait the outstanding fences
// in submission order and release the per-submission resources afterwards.
package webgpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend"
	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/internal/metrics"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var tracer = otel.Tracer("github.com/gogpu/gpuhal/backend/webgpu")

const (
	// maxWorkgroupsPerDimension is the WebGPU default limit.
	maxWorkgroupsPerDimension = 65535

	// copyAlignment is the alignment of buffer sizes, copies and writes.
	copyAlignment = 4
)

// Backend runs gpuhal work on a wgpu HAL device.
type Backend struct {
	cfg   config
	hacks []Hack

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string
	external bool // true when using shared device (don't destroy on Close)

	mu      sync.Mutex // guards pending and closed; serializes queue submission
	pending []*submission
	closed  bool

	// syncSem admits one fence waiter at a time.
	syncSem chan struct{}
}

var _ gpuhal.Backend = (*Backend)(nil)

// submission tracks the resources of one submitted command buffer until
// its fence signals.
type submission struct {
	label      string
	fence      hal.Fence
	cmdBuf     hal.CommandBuffer
	bindGroups []hal.BindGroup
	release    []func()
	submitted  time.Time
}

// cleanup destroys all tracked per-submission resources.
func (s *submission) cleanup(device hal.Device) {
	for _, g := range s.bindGroups {
		device.DestroyBindGroup(g)
	}
	if s.cmdBuf != nil {
		device.FreeCommandBuffer(s.cmdBuf)
	}
	if s.fence != nil {
		device.DestroyFence(s.fence)
	}
	for _, fn := range s.release {
		fn()
	}
}

// New opens the first discrete or integrated GPU exposed by the Vulkan
// HAL backend.
func New(opts ...Option) (*Backend, error) {
	hb, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", gpuhal.ErrUnsupported)
	}
	instance, err := hb.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", gpuhal.ErrDevice, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", gpuhal.ErrUnsupported)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %w", gpuhal.ErrDevice, err)
	}

	b := newBackend(openDev.Device, openDev.Queue, opts)
	b.instance = instance
	b.adapter = selected.Info.Name
	gpuhal.Logger().Info("webgpu: device opened", "adapter", b.adapter)
	return b, nil
}

// NewWithDevice returns a backend on a device owned by the caller. Close
// releases the backend's resources but leaves the device open.
func NewWithDevice(device hal.Device, queue hal.Queue, opts ...Option) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device or queue", gpuhal.ErrContract)
	}
	b := newBackend(device, queue, opts)
	b.external = true
	return b, nil
}

// FromProvider returns a backend on the device of a host application. The
// provider must also implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", gpuhal.ErrUnsupported)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", gpuhal.ErrUnsupported)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", gpuhal.ErrUnsupported)
	}
	gpuhal.Logger().Debug("webgpu: using shared device")
	return NewWithDevice(device, queue, opts...)
}

func newBackend(device hal.Device, queue hal.Queue, opts []Option) *Backend {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	hacks := make([]Hack, 0, len(BuiltinHacks)+len(cfg.hacks))
	hacks = append(hacks, BuiltinHacks...)
	hacks = append(hacks, cfg.hacks...)
	return &Backend{
		cfg:     cfg,
		hacks:   hacks,
		device:  device,
		queue:   queue,
		syncSem: make(chan struct{}, 1),
	}
}

// Name implements gpuhal.Backend.
func (b *Backend) Name() string { return backend.BackendWebGPU }

// Target implements gpuhal.Backend.
func (b *Backend) Target() compiler.Target { return compiler.TargetWGSL }

// Limits implements gpuhal.Backend.
func (b *Backend) Limits() gpuhal.Limits {
	return gpuhal.Limits{
		MaxWorkgroupsPerDimension: maxWorkgroupsPerDimension,
		MinBufferSize:             copyAlignment,
	}
}

// Adapter returns the name of the adapter the backend opened, or "" for a
// shared device.
func (b *Backend) Adapter() string { return b.adapter }

// Hacks returns the source rewrites applied by LoadModule, in order.
func (b *Backend) Hacks() []Hack {
	return append([]Hack(nil), b.hacks...)
}

// Device returns the HAL device and queue.
func (b *Backend) Device() (hal.Device, hal.Queue) { return b.device, b.queue }

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: backend %s is closed", gpuhal.ErrDevice, b.Name())
	}
	return nil
}

// submit queues cmdBuf with a fresh fence and records s as pending.
func (b *Backend) submit(s *submission) error {
	fence, err := b.device.CreateFence()
	if err != nil {
		s.cleanup(b.device)
		return fmt.Errorf("%w: create fence: %w", gpuhal.ErrDevice, err)
	}
	s.fence = fence

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.cleanup(b.device)
		return fmt.Errorf("%w: backend %s is closed", gpuhal.ErrDevice, b.Name())
	}
	if err := b.queue.Submit([]hal.CommandBuffer{s.cmdBuf}, fence, 1); err != nil {
		s.cleanup(b.device)
		return fmt.Errorf("%w: submit %s: %w", gpuhal.ErrDevice, s.label, err)
	}
	s.submitted = time.Now()
	b.pending = append(b.pending, s)
	metrics.Submissions.WithLabelValues(b.Name()).Inc()
	return nil
}

// release runs fn once no submitted work can still reference the object
// it destroys: immediately when the queue is idle, otherwise after the
// most recent submission retires.
func (b *Backend) release(fn func()) {
	b.mu.Lock()
	if n := len(b.pending); n > 0 {
		last := b.pending[n-1]
		last.release = append(last.release, fn)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	fn()
}

// Synchronize implements gpuhal.Backend. It waits the fence of every
// submission made before the call, oldest first.
func (b *Backend) Synchronize(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "webgpu.Synchronize")
	defer span.End()
	if err := b.synchronize(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (b *Backend) synchronize(ctx context.Context) error {
	b.mu.Lock()
	n := len(b.pending)
	b.mu.Unlock()
	if n == 0 {
		return nil
	}

	select {
	case b.syncSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.syncSem }()

	start := time.Now()
	defer func() {
		metrics.SyncSeconds.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
	}()

	// Another waiter may have retired part of the snapshot while this one
	// queued for the semaphore.
	for range n {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return nil
		}
		s := b.pending[0]
		b.mu.Unlock()

		if err := b.waitFence(ctx, s); err != nil {
			return err
		}

		b.mu.Lock()
		b.pending = b.pending[1:]
		b.mu.Unlock()
		s.cleanup(b.device)
	}
	return nil
}

// waitFence polls the fence of s so that ctx is honored between polls.
// Cancelling ctx leaves s pending.
func (b *Backend) waitFence(ctx context.Context, s *submission) error {
	for {
		ok, err := b.device.Wait(s.fence, 1, b.cfg.pollInterval)
		if err != nil {
			return fmt.Errorf("%w: wait for %s: %w", gpuhal.ErrDevice, s.label, err)
		}
		if ok {
			return nil
		}
		if elapsed := time.Since(s.submitted); elapsed > b.cfg.fenceTimeout {
			return fmt.Errorf("%w: %s: GPU timeout after %v", gpuhal.ErrDevice, s.label, elapsed.Round(time.Millisecond))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// await runs a blocking queue call and returns when it finishes or ctx is
// done. The result travels through a single-slot channel, so an abandoned
// call never blocks.
func (b *Backend) await(ctx context.Context, op string, call func() error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "webgpu."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		metrics.ReadSeconds.WithLabelValues(b.Name(), op).Observe(time.Since(start).Seconds())
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

// Close implements gpuhal.Backend. Outstanding work is waited for up to the
// fence timeout. A shared device is left open.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.fenceTimeout)
	err := b.synchronize(ctx)
	cancel()
	if err != nil {
		gpuhal.Logger().Warn("webgpu: close with unfinished work", "err", err)
		err = fmt.Errorf("%w: close: %w", gpuhal.ErrDevice, err)
	}

	b.mu.Lock()
	b.closed = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if !b.external {
		// Destroying the device releases everything created on it.
		b.device.Destroy()
		if b.instance != nil {
			b.instance.Destroy()
		}
	} else {
		for _, s := range pending {
			s.cleanup(b.device)
		}
	}
	gpuhal.Logger().Debug("webgpu: backend closed", "shared", b.external)
	return err
}
