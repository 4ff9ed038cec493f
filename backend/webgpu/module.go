// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/compiler/wgsl"
)

type module struct {
	b      *Backend
	label  string
	shader hal.ShaderModule
	refl   *compiler.Reflection

	mu        sync.Mutex
	functions []*function
	destroyed bool
}

// Destroy releases the shader module and every pipeline resolved from it
// once in-flight work no longer uses them.
func (m *module) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	fns := m.functions
	m.functions = nil
	m.mu.Unlock()

	device := m.b.device
	m.b.release(func() {
		for _, f := range fns {
			f.destroy(device)
		}
		device.DestroyShaderModule(m.shader)
	})
}

// function is a compute pipeline with one bind group layout per group
// referenced by the entry point.
type function struct {
	mod      *module
	entry    string
	groups   []hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
	kinds    map[compiler.Binding]compiler.ResourceKind
}

func (f *function) Entry() string { return f.entry }

func (f *function) destroy(device hal.Device) {
	if f.pipeline != nil {
		device.DestroyComputePipeline(f.pipeline)
	}
	if f.layout != nil {
		device.DestroyPipelineLayout(f.layout)
	}
	for _, l := range f.groups {
		if l != nil {
			device.DestroyBindGroupLayout(l)
		}
	}
}

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}
	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// LoadModule implements gpuhal.Backend. code is preprocessed WGSL text; the
// backend's hacks are applied before compilation.
func (b *Backend) LoadModule(code []byte) (gpuhal.Module, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	src := ApplyHacks(string(code), b.hacks)

	refl, err := wgsl.Reflect(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reflect: %w", gpuhal.ErrCompileOrLoad, err)
	}
	if len(refl.EntryPoints) == 0 {
		return nil, fmt.Errorf("%w: module declares no compute entry point", gpuhal.ErrCompileOrLoad)
	}
	words, err := compileSPIRV(src)
	if err != nil {
		return nil, fmt.Errorf("%w: compile shader: %w", gpuhal.ErrCompileOrLoad, err)
	}

	label := b.cfg.label(refl.EntryPoints[0].Name)
	shader, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create shader module: %w", gpuhal.ErrCompileOrLoad, err)
	}
	gpuhal.Logger().Debug("webgpu: module loaded", "label", label, "words", len(words))
	return &module{b: b, label: label, shader: shader, refl: refl}, nil
}

func bindingType(k compiler.ResourceKind) (gputypes.BufferBindingType, bool) {
	switch k {
	case compiler.ResourceUniform:
		return gputypes.BufferBindingTypeUniform, true
	case compiler.ResourceReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage, true
	case compiler.ResourceStorage:
		return gputypes.BufferBindingTypeStorage, true
	}
	return 0, false
}

// LoadFunction implements gpuhal.Backend. It creates the bind group
// layouts, the pipeline layout and the compute pipeline of entry.
func (b *Backend) LoadFunction(m gpuhal.Module, entry string) (gpuhal.Function, error) {
	mod, ok := m.(*module)
	if !ok || mod.b != b {
		return nil, fmt.Errorf("%w: module %T was not loaded by %s", gpuhal.ErrContract, m, b.Name())
	}
	ep, ok := mod.refl.Entry(entry)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", gpuhal.ErrFunctionNotFound, entry, mod.label)
	}

	f := &function{mod: mod, entry: entry, kinds: make(map[compiler.Binding]compiler.ResourceKind)}
	byGroup := make(map[uint32][]gputypes.BindGroupLayoutEntry)
	var nGroups uint32
	for _, p := range ep.Resources() {
		typ, ok := bindingType(p.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: %s: parameter %s is not a buffer (%s)",
				gpuhal.ErrCompileOrLoad, entry, p.Name, p.Kind)
		}
		f.kinds[p.Binding] = p.Kind
		byGroup[p.Binding.Group] = append(byGroup[p.Binding.Group], gputypes.BindGroupLayoutEntry{
			Binding:    p.Binding.Index,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		})
		nGroups = max(nGroups, p.Binding.Group+1)
	}

	device := b.device
	fail := func(what string, err error) (gpuhal.Function, error) {
		f.destroy(device)
		return nil, fmt.Errorf("%w: %s: %s: %w", gpuhal.ErrCompileOrLoad, entry, what, err)
	}

	f.groups = make([]hal.BindGroupLayout, nGroups)
	for g := range nGroups {
		entries := byGroup[g]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   b.cfg.label(entry, fmt.Sprintf("group%d", g)),
			Entries: entries,
		})
		if err != nil {
			return fail("create bind group layout", err)
		}
		f.groups[g] = layout
	}

	layout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            b.cfg.label(entry, "layout"),
		BindGroupLayouts: f.groups,
	})
	if err != nil {
		return fail("create pipeline layout", err)
	}
	f.layout = layout

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  b.cfg.label(entry),
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     mod.shader,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return fail("create compute pipeline", err)
	}
	f.pipeline = pipeline

	mod.mu.Lock()
	defer mod.mu.Unlock()
	if mod.destroyed {
		f.destroy(device)
		return nil, fmt.Errorf("%w: module %s was destroyed", gpuhal.ErrContract, mod.label)
	}
	mod.functions = append(mod.functions, f)
	return f, nil
}
