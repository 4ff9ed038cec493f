// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
)

// encoder records passes and copies into one HAL command encoder.
type encoder struct {
	b     *Backend
	raw   hal.CommandEncoder
	label string

	mu         sync.Mutex
	consumed   bool
	pass       *pass
	bindGroups []hal.BindGroup
	dispatches int
}

type pass struct {
	enc   *encoder
	raw   hal.ComputePassEncoder
	label string
	ended bool // guarded by enc.mu
}

// BeginEncoding implements gpuhal.Backend.
func (b *Backend) BeginEncoding() (gpuhal.Encoder, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	label := b.cfg.label("encoder")
	raw, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("%w: create command encoder: %w", gpuhal.ErrDevice, err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("%w: begin encoding: %w", gpuhal.ErrDevice, err)
	}
	return &encoder{b: b, raw: raw, label: label}, nil
}

func (e *encoder) BeginPass(label string) (gpuhal.Pass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return nil, gpuhal.ErrEncoderConsumed
	}
	if e.pass != nil && !e.pass.ended {
		return nil, fmt.Errorf("%w: pass %q is still open", gpuhal.ErrContract, e.pass.label)
	}
	raw := e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: e.b.cfg.label(label)})
	e.pass = &pass{enc: e, raw: raw, label: label}
	return e.pass, nil
}

func (p *pass) End() error {
	p.enc.mu.Lock()
	defer p.enc.mu.Unlock()
	if p.ended {
		return nil
	}
	p.ended = true
	p.raw.End()
	return nil
}

func (e *encoder) CopyBufferToBuffer(src gpuhal.RawBuffer, srcOffset uint64, dst gpuhal.RawBuffer, dstOffset, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return gpuhal.ErrEncoderConsumed
	}
	if e.pass != nil && !e.pass.ended {
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
	if srcOffset%copyAlignment != 0 || dstOffset%copyAlignment != 0 || size%copyAlignment != 0 {
		return fmt.Errorf("%w: copy of %d bytes (%d -> %d) is not 4-byte aligned",
			gpuhal.ErrContract, size, srcOffset, dstOffset)
	}
	e.raw.CopyBufferToBuffer(s.raw, d.raw, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	return nil
}

// Submit implements gpuhal.Backend. It ends encoding, queues the command
// buffer with its own fence and returns without waiting.
func (b *Backend) Submit(e gpuhal.Encoder) error {
	enc, ok := e.(*encoder)
	if !ok || enc.b != b {
		return fmt.Errorf("%w: encoder %T does not belong to %s", gpuhal.ErrContract, e, b.Name())
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.consumed {
		return gpuhal.ErrEncoderConsumed
	}
	if enc.pass != nil && !enc.pass.ended {
		return fmt.Errorf("%w: pass %q not ended before submit", gpuhal.ErrContract, enc.pass.label)
	}
	enc.consumed = true

	_, span := tracer.Start(context.Background(), "webgpu.Submit", trace.WithAttributes(
		attribute.Int("dispatches", enc.dispatches),
		attribute.Int("bind_groups", len(enc.bindGroups))))
	defer span.End()

	cmdBuf, err := enc.raw.EndEncoding()
	if err != nil {
		for _, g := range enc.bindGroups {
			b.device.DestroyBindGroup(g)
		}
		span.RecordError(err)
		return fmt.Errorf("%w: end encoding: %w", gpuhal.ErrDevice, err)
	}
	s := &submission{label: enc.label, cmdBuf: cmdBuf, bindGroups: enc.bindGroups}
	enc.bindGroups = nil
	if err := b.submit(s); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// dispatch collects buffer bindings for one pipeline invocation.
type dispatch struct {
	pass     *pass
	fn       *function
	entries  map[uint32][]gputypes.BindGroupEntry
	bound    map[compiler.Binding]bool
	launched bool
}

// BeginDispatch implements gpuhal.Backend.
func (b *Backend) BeginDispatch(p gpuhal.Pass, f gpuhal.Function) (gpuhal.Dispatch, error) {
	ps, ok := p.(*pass)
	if !ok || ps.enc.b != b {
		return nil, fmt.Errorf("%w: pass %T does not belong to %s", gpuhal.ErrContract, p, b.Name())
	}
	fn, ok := f.(*function)
	if !ok || fn.mod.b != b {
		return nil, fmt.Errorf("%w: function %T was not loaded by %s", gpuhal.ErrContract, f, b.Name())
	}
	ps.enc.mu.Lock()
	ended := ps.ended
	ps.enc.mu.Unlock()
	if ended {
		return nil, fmt.Errorf("%w: pass %q already ended", gpuhal.ErrContract, ps.label)
	}
	return &dispatch{
		pass:    ps,
		fn:      fn,
		entries: make(map[uint32][]gputypes.BindGroupEntry),
		bound:   make(map[compiler.Binding]bool),
	}, nil
}

// SetBuffer binds r at binding. Empty ranges are bound as the first four
// bytes of their allocation.
func (d *dispatch) SetBuffer(binding gpuhal.Binding, r gpuhal.BufferRange) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	b := d.pass.enc.b
	kind, ok := d.fn.kinds[binding]
	if !ok {
		return fmt.Errorf("%w: %s has no resource at binding %s", gpuhal.ErrContract, d.fn.entry, binding)
	}
	if d.bound[binding] {
		return fmt.Errorf("%w: binding %s of %s set twice", gpuhal.ErrContract, binding, d.fn.entry)
	}
	buf, err := b.buffer(r.Buffer)
	if err != nil {
		return err
	}
	if err := checkRange(buf, r.Offset, r.Size); err != nil {
		return err
	}
	want := gputypes.BufferUsageStorage
	if kind == compiler.ResourceUniform {
		want = gputypes.BufferUsageUniform
	}
	if buf.usage&want == 0 {
		return fmt.Errorf("%w: buffer %q bound as %s lacks the matching usage", gpuhal.ErrContract, buf.label, kind)
	}

	offset, size := r.Offset, r.Size
	if size == 0 {
		size = copyAlignment
		offset = min(offset, buf.size-size)
	}
	d.bound[binding] = true
	d.entries[binding.Group] = append(d.entries[binding.Group], gputypes.BindGroupEntry{
		Binding:  binding.Index,
		Resource: gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: offset, Size: size},
	})
	return nil
}

// indirectDispatcher is implemented by HAL compute passes that can read the
// workgroup count from a buffer.
type indirectDispatcher interface {
	DispatchIndirect(buffer hal.Buffer, offset uint64)
}

// Launch records the pipeline, its bind groups and the dispatch into the
// pass. block is ignored: the workgroup size is part of the shader.
func (d *dispatch) Launch(grid gpuhal.Grid, _ [3]uint32) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	d.launched = true

	enc := d.pass.enc
	b := enc.b
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if d.pass.ended {
		return fmt.Errorf("%w: pass %q already ended", gpuhal.ErrContract, d.pass.label)
	}
	if len(d.bound) != len(d.fn.kinds) {
		return fmt.Errorf("%w: %s: %d of %d bindings set", gpuhal.ErrContract,
			d.fn.entry, len(d.bound), len(d.fn.kinds))
	}
	if grid.IsEmpty() {
		return nil
	}

	var (
		indirect    indirectDispatcher
		indirectBuf *buffer
	)
	if grid.IsIndirect() {
		r := grid.Indirect()
		var ok bool
		if indirect, ok = d.pass.raw.(indirectDispatcher); !ok {
			return fmt.Errorf("%w: indirect dispatch on this HAL", gpuhal.ErrUnsupported)
		}
		var err error
		if indirectBuf, err = b.buffer(r.Buffer); err != nil {
			return err
		}
		if err := checkRange(indirectBuf, r.Offset, 12); err != nil {
			return err
		}
		if indirectBuf.usage&gputypes.BufferUsageIndirect == 0 {
			return fmt.Errorf("%w: buffer %q lacks Indirect usage", gpuhal.ErrContract, indirectBuf.label)
		}
	} else if g := grid.Direct(); g[0] > maxWorkgroupsPerDimension ||
		g[1] > maxWorkgroupsPerDimension || g[2] > maxWorkgroupsPerDimension {
		return fmt.Errorf("%w: grid %v exceeds %d workgroups per dimension",
			gpuhal.ErrContract, g, maxWorkgroupsPerDimension)
	}

	groups := make([]hal.BindGroup, len(d.fn.groups))
	for g, layout := range d.fn.groups {
		entries := d.entries[uint32(g)]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		bg, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   b.cfg.label(d.fn.entry, fmt.Sprintf("group%d", g)),
			Layout:  layout,
			Entries: entries,
		})
		if err != nil {
			for _, made := range groups[:g] {
				b.device.DestroyBindGroup(made)
			}
			return fmt.Errorf("%w: create bind group %d of %s: %w", gpuhal.ErrDevice, g, d.fn.entry, err)
		}
		groups[g] = bg
	}
	enc.bindGroups = append(enc.bindGroups, groups...)

	raw := d.pass.raw
	raw.SetPipeline(d.fn.pipeline)
	for g, bg := range groups {
		raw.SetBindGroup(uint32(g), bg, nil)
	}
	if indirect != nil {
		indirect.DispatchIndirect(indirectBuf.raw, grid.Indirect().Offset)
	} else {
		g := grid.Direct()
		raw.Dispatch(g[0], g[1], g[2])
	}
	enc.dispatches++
	return nil
}
