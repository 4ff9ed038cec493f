// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/internal/metrics"
)

// MaxWorkgroups is the largest grid extent LaunchCapped produces on any
// axis, whatever the backend's own limit.
const MaxWorkgroups = 65535

// Param is one entry of a compiled function's binding layout.
type Param struct {
	Name    string
	Binding Binding
}

// CompiledFunction is a loaded entry point together with its reflected
// binding layout and thread-group size.
//
// The layout lists the kernel's resource parameters in reflection order.
// Parameters bound to an intrinsic semantic (thread and group ids) are
// supplied by the grid and are not part of it.
//
// A CompiledFunction is immutable and safe for concurrent use; callers
// typically create one per kernel and keep it for the backend's lifetime.
type CompiledFunction struct {
	backend  Backend
	module   Module
	function Function
	entry    string
	blockDim [3]uint32
	layout   []Param
}

// NewCompiledFunction loads prog onto b and resolves entry.
func NewCompiledFunction(b Backend, prog *compiler.Program, entry string) (*CompiledFunction, error) {
	if prog == nil {
		return nil, fmt.Errorf("%w: nil program", ErrCompileOrLoad)
	}
	if prog.Target != b.Target() {
		return nil, fmt.Errorf("%w: program %s targets %s, backend %s loads %s",
			ErrCompileOrLoad, prog.Module, prog.Target, b.Name(), b.Target())
	}
	ep, ok := prog.Reflection.Entry(entry)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no reflection for %s", ErrFunctionNotFound, prog.Module, entry)
	}
	for i, d := range ep.WorkgroupSize {
		if d == 0 {
			return nil, fmt.Errorf("%w: %s: thread-group size %v has a zero axis %d",
				ErrCompileOrLoad, entry, ep.WorkgroupSize, i)
		}
	}

	mod, err := b.LoadModule(prog.Code)
	if err != nil {
		return nil, err
	}
	fn, err := b.LoadFunction(mod, entry)
	if err != nil {
		mod.Destroy()
		return nil, err
	}

	f := &CompiledFunction{
		backend:  b,
		module:   mod,
		function: fn,
		entry:    entry,
		blockDim: ep.WorkgroupSize,
	}
	for _, p := range ep.Resources() {
		f.layout = append(f.layout, Param{Name: p.Name, Binding: p.Binding})
	}
	Logger().Debug("gpuhal: function loaded",
		"backend", b.Name(), "module", prog.Module, "entry", entry,
		"block", f.blockDim, "params", len(f.layout))
	return f, nil
}

// CompileFunction compiles module with c for b's target and loads entry.
func CompileFunction(ctx context.Context, b Backend, c compiler.Compiler, module, entry string, macros ...compiler.Macro) (*CompiledFunction, error) {
	prog, err := c.Compile(ctx, module, b.Target(), entry, macros...)
	switch {
	case errors.Is(err, compiler.ErrEntryNotFound):
		return nil, fmt.Errorf("%w: %w", ErrFunctionNotFound, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrCompileOrLoad, err)
	}
	return NewCompiledFunction(b, prog, entry)
}

// Entry returns the entry point name.
func (f *CompiledFunction) Entry() string { return f.entry }

// Function returns the backend's function handle.
func (f *CompiledFunction) Function() Function { return f.function }

// BlockDim returns the thread-group size declared by the kernel.
func (f *CompiledFunction) BlockDim() [3]uint32 { return f.blockDim }

// Layout returns a copy of the binding layout.
func (f *CompiledFunction) Layout() []Param {
	return append([]Param(nil), f.layout...)
}

// Destroy releases the module the function was loaded from.
func (f *CompiledFunction) Destroy() {
	if f.module != nil {
		f.module.Destroy()
	}
}

// Grid returns the thread-groups needed to cover threads: the thread
// count rounded up to whole groups on each axis. Kernels must bounds-check
// the excess threads.
func (f *CompiledFunction) Grid(threads [3]uint32) [3]uint32 {
	var g [3]uint32
	for i := range g {
		g[i] = uint32((uint64(threads[i]) + uint64(f.blockDim[i]) - 1) / uint64(f.blockDim[i]))
	}
	return g
}

// CappedGrid returns the 1-D grid for n threads after clamping n to what a
// single dispatch can express: MaxWorkgroups (or the backend's lower limit)
// groups of BlockDim()[0] threads. Kernels handle larger workloads by
// striding over the capped grid.
//
// CappedGrid panics unless the thread-group size is 1 on the y and z axes.
func (f *CompiledFunction) CappedGrid(n uint32) [3]uint32 {
	if f.blockDim[1] != 1 || f.blockDim[2] != 1 {
		panic(fmt.Sprintf("gpuhal: capped launch of %s needs a 1-D thread-group, have %v", f.entry, f.blockDim))
	}
	maxGroups := uint64(MaxWorkgroups)
	if lim := uint64(f.backend.Limits().MaxWorkgroupsPerDimension); lim > 0 && lim < maxGroups {
		maxGroups = lim
	}
	threads := min(uint64(n), maxGroups*uint64(f.blockDim[0]))
	return f.Grid([3]uint32{uint32(threads), 1, 1})
}

// Bind writes args into d following the layout. Every parameter must
// receive exactly one buffer at its own binding; a bundle lacking a
// parameter fails with an *ArgNotFoundError naming it.
func (f *CompiledFunction) Bind(d Dispatch, args Arg) error {
	if args == nil {
		args = NoArgs{}
	}
	rec := &bindRecorder{Dispatch: d, bound: make(map[Binding]bool, len(f.layout))}
	for _, p := range f.layout {
		rec.param = p
		if err := args.WriteArg(p.Binding, p.Name, rec); err != nil {
			return err
		}
		if !rec.bound[p.Binding] {
			return fmt.Errorf("%w: argument %q bound nothing", ErrContract, p.Name)
		}
	}
	return nil
}

// Launch dispatches enough thread-groups to cover threads.
func (f *CompiledFunction) Launch(p Pass, args Arg, threads [3]uint32) error {
	g := f.Grid(threads)
	return f.LaunchGrid(p, args, DirectGrid(g[0], g[1], g[2]))
}

// LaunchCapped dispatches the capped 1-D grid for n threads. See CappedGrid.
func (f *CompiledFunction) LaunchCapped(p Pass, args Arg, n uint32) error {
	g := f.CappedGrid(n)
	return f.LaunchGrid(p, args, DirectGrid(g[0], g[1], g[2]))
}

// LaunchIndirect dispatches a grid read from the first three elements of
// indirect when the work executes, so an earlier kernel can size a later
// one without a host round-trip.
func (f *CompiledFunction) LaunchIndirect(p Pass, args Arg, indirect Slice[uint32]) error {
	if indirect.Len() < 3 {
		return fmt.Errorf("%w: indirect grid needs 3 elements, have %d", ErrContract, indirect.Len())
	}
	return f.LaunchGrid(p, args, IndirectGrid(indirect.Slice(0, 3).Range()))
}

// LaunchGrid binds args and dispatches grid.
func (f *CompiledFunction) LaunchGrid(p Pass, args Arg, grid Grid) error {
	d, err := f.backend.BeginDispatch(p, f.function)
	if err != nil {
		return err
	}
	if err := f.Bind(d, args); err != nil {
		return err
	}
	if err := d.Launch(grid, f.blockDim); err != nil {
		return err
	}

	kind := "direct"
	switch {
	case grid.IsIndirect():
		kind = "indirect"
	case grid.IsEmpty():
		kind = "empty"
	}
	metrics.Dispatches.WithLabelValues(f.backend.Name(), kind).Inc()
	Logger().Debug("gpuhal: dispatch", "backend", f.backend.Name(), "entry", f.entry, "grid", grid)
	return nil
}

// bindRecorder checks that each argument writes exactly its own binding.
type bindRecorder struct {
	Dispatch
	param Param
	bound map[Binding]bool
}

func (r *bindRecorder) SetBuffer(b Binding, br BufferRange) error {
	if b != r.param.Binding {
		return fmt.Errorf("%w: argument %q wrote binding %v, layout has %v", ErrContract, r.param.Name, b, r.param.Binding)
	}
	if r.bound[b] {
		return fmt.Errorf("%w: argument %q bound twice", ErrContract, r.param.Name)
	}
	if err := r.Dispatch.SetBuffer(b, br); err != nil {
		return err
	}
	r.bound[b] = true
	return nil
}

func (r *bindRecorder) Launch(Grid, [3]uint32) error {
	return fmt.Errorf("%w: arguments may not launch a dispatch", ErrContract)
}
