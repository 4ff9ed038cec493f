// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
)

// fakeBackend is an in-memory command-buffer backend that records every
// launch instead of executing it.
type fakeBackend struct {
	limits gpuhal.Limits

	mu        sync.Mutex
	buffers   []*fakeBuffer
	modules   []*fakeModule
	launches  []launch
	submitted int
}

type launch struct {
	entry    string
	grid     gpuhal.Grid
	block    [3]uint32
	bindings []gpuhal.Binding
	ranges   map[gpuhal.Binding]gpuhal.BufferRange
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{limits: gpuhal.Limits{MaxWorkgroupsPerDimension: 65535, MinBufferSize: 4}}
}

func (b *fakeBackend) Name() string            { return "fake" }
func (b *fakeBackend) Target() compiler.Target { return compiler.TargetHost }
func (b *fakeBackend) Limits() gpuhal.Limits   { return b.limits }
func (b *fakeBackend) Close() error            { return nil }

type fakeModule struct {
	name      string
	destroyed bool
}

func (m *fakeModule) Destroy() { m.destroyed = true }

type fakeFunction struct{ entry string }

func (f *fakeFunction) Entry() string { return f.entry }

func (b *fakeBackend) LoadModule(code []byte) (gpuhal.Module, error) {
	name, ok := compiler.ParseHostCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: not a host descriptor", gpuhal.ErrCompileOrLoad)
	}
	m := &fakeModule{name: name}
	b.mu.Lock()
	b.modules = append(b.modules, m)
	b.mu.Unlock()
	return m, nil
}

func (b *fakeBackend) LoadFunction(m gpuhal.Module, entry string) (gpuhal.Function, error) {
	if entry == "unloadable" {
		return nil, fmt.Errorf("%w: %s", gpuhal.ErrFunctionNotFound, entry)
	}
	return &fakeFunction{entry: entry}, nil
}

// liveModules counts modules not yet destroyed.
func (b *fakeBackend) liveModules() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.modules {
		if !m.destroyed {
			n++
		}
	}
	return n
}

type fakeBuffer struct {
	data      []byte
	usage     gpuhal.BufferUsage
	destroyed bool
}

func (buf *fakeBuffer) Size() uint64              { return uint64(len(buf.data)) }
func (buf *fakeBuffer) Usage() gpuhal.BufferUsage { return buf.usage }
func (buf *fakeBuffer) Destroy()                  { buf.destroyed = true }

func (b *fakeBackend) CreateBuffer(desc gpuhal.BufferDescriptor) (gpuhal.RawBuffer, error) {
	buf := &fakeBuffer{data: make([]byte, max(desc.Size, uint64(len(desc.Contents)))), usage: desc.Usage}
	copy(buf.data, desc.Contents)
	b.mu.Lock()
	b.buffers = append(b.buffers, buf)
	b.mu.Unlock()
	return buf, nil
}

func span(r gpuhal.RawBuffer, offset, n uint64) ([]byte, error) {
	buf, ok := r.(*fakeBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer %T", gpuhal.ErrContract, r)
	}
	if offset+n > uint64(len(buf.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) outside %d bytes", gpuhal.ErrContract, offset, offset+n, len(buf.data))
	}
	return buf.data[offset : offset+n], nil
}

func (b *fakeBackend) WriteBuffer(dst gpuhal.RawBuffer, offset uint64, data []byte) error {
	s, err := span(dst, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}

func (b *fakeBackend) ReadBuffer(_ context.Context, src gpuhal.RawBuffer, offset uint64, dst []byte) error {
	s, err := span(src, offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, s)
	return nil
}

func (b *fakeBackend) SlowReadBuffer(ctx context.Context, src gpuhal.RawBuffer, offset uint64, dst []byte) error {
	return b.ReadBuffer(ctx, src, offset, dst)
}

func (b *fakeBackend) Synchronize(ctx context.Context) error { return ctx.Err() }

type fakeEncoder struct {
	b        *fakeBackend
	launches []launch
}

type fakePass struct {
	enc   *fakeEncoder
	ended bool
}

func (p *fakePass) End() error { p.ended = true; return nil }

func (b *fakeBackend) BeginEncoding() (gpuhal.Encoder, error) {
	return &fakeEncoder{b: b}, nil
}

func (e *fakeEncoder) BeginPass(string) (gpuhal.Pass, error) {
	return &fakePass{enc: e}, nil
}

func (e *fakeEncoder) CopyBufferToBuffer(src gpuhal.RawBuffer, srcOffset uint64, dst gpuhal.RawBuffer, dstOffset, size uint64) error {
	s, err := span(src, srcOffset, size)
	if err != nil {
		return err
	}
	d, err := span(dst, dstOffset, size)
	if err != nil {
		return err
	}
	copy(d, s)
	return nil
}

func (b *fakeBackend) Submit(e gpuhal.Encoder) error {
	enc := e.(*fakeEncoder)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches = append(b.launches, enc.launches...)
	b.submitted++
	return nil
}

type fakeDispatch struct {
	pass     *fakePass
	fn       *fakeFunction
	launch   launch
	launched bool
}

func (b *fakeBackend) BeginDispatch(p gpuhal.Pass, f gpuhal.Function) (gpuhal.Dispatch, error) {
	fp := p.(*fakePass)
	if fp.ended {
		return nil, fmt.Errorf("%w: pass ended", gpuhal.ErrContract)
	}
	fn := f.(*fakeFunction)
	return &fakeDispatch{
		pass:   fp,
		fn:     fn,
		launch: launch{entry: fn.entry, ranges: make(map[gpuhal.Binding]gpuhal.BufferRange)},
	}, nil
}

func (d *fakeDispatch) SetBuffer(binding gpuhal.Binding, r gpuhal.BufferRange) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	if _, err := span(r.Buffer, r.Offset, r.Size); err != nil {
		return err
	}
	d.launch.bindings = append(d.launch.bindings, binding)
	d.launch.ranges[binding] = r
	return nil
}

// Launch records the dispatch. Empty grids record nothing.
func (d *fakeDispatch) Launch(grid gpuhal.Grid, block [3]uint32) error {
	if d.launched {
		return gpuhal.ErrDispatchConsumed
	}
	d.launched = true
	if grid.IsEmpty() {
		return nil
	}
	d.launch.grid = grid
	d.launch.block = block
	d.pass.enc.launches = append(d.pass.enc.launches, d.launch)
	return nil
}

// fakeCompiler serves reflection for host programs from a table.
type fakeCompiler struct {
	mu      sync.Mutex
	entries map[string]compiler.EntryPoint // "module:entry"
	calls   int
}

func (c *fakeCompiler) Compile(ctx context.Context, module string, target compiler.Target, entry string, _ ...compiler.Macro) (*compiler.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls++
	ep, ok := c.entries[module+":"+entry]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", compiler.ErrEntryNotFound, entry, module)
	}
	return &compiler.Program{
		Module:     module,
		Target:     target,
		Code:       compiler.HostCode(module),
		Reflection: compiler.Reflection{EntryPoints: []compiler.EntryPoint{ep}},
	}, nil
}

// res returns a resource parameter at group 0.
func res(name string, index uint32) compiler.Parameter {
	return compiler.Parameter{
		Name:    name,
		Type:    "array<f32>",
		Binding: compiler.Binding{Group: 0, Index: index},
		Kind:    compiler.ResourceStorage,
	}
}

// hostProgram builds a host program for entry with the given reflection.
func hostProgram(module, entry string, block [3]uint32, params ...compiler.Parameter) *compiler.Program {
	return &compiler.Program{
		Module: module,
		Target: compiler.TargetHost,
		Code:   compiler.HostCode(module),
		Reflection: compiler.Reflection{EntryPoints: []compiler.EntryPoint{{
			Name:          entry,
			WorkgroupSize: block,
			Parameters:    params,
		}}},
	}
}
