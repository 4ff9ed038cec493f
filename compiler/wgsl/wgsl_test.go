// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuhal/compiler"
)

const reflectSource = `
const WG: u32 = 64u;

struct Params { n: u32 }

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> a: array<f32>;
@group(0) @binding(2) var<storage> b: array<f32>;
@group(1) @binding(0) var<storage, read_write> out: array<f32>;
@group(2) @binding(0) var<storage, read_write> unused: array<f32>;
// @group(3) @binding(0) var<storage, read_write> commented: array<f32>;
var<workgroup> tile: array<f32, 64>;

fn load_b(i: u32) -> f32 { return b[i]; }

@compute @workgroup_size(WG, 2)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.n) { return; }
    out[id.x] = a[id.x] + load_b(id.x);
}

@vertex
fn vs() -> @builtin(position) vec4<f32> { return vec4<f32>(0.0); }
`

func TestReflect(t *testing.T) {
	r, err := Reflect(reflectSource)
	require.NoError(t, err)
	require.Len(t, r.EntryPoints, 1)

	ep := r.EntryPoints[0]
	assert.Equal(t, "main", ep.Name)
	assert.Equal(t, [3]uint32{64, 2, 1}, ep.WorkgroupSize)
	assert.Equal(t, []compiler.Parameter{
		{Name: "id", Type: "vec3<u32>", Semantic: "global_invocation_id"},
		{Name: "params", Type: "Params", Binding: compiler.Binding{Group: 0, Index: 0}, Kind: compiler.ResourceUniform},
		{Name: "a", Type: "array<f32>", Binding: compiler.Binding{Group: 0, Index: 1}, Kind: compiler.ResourceReadOnlyStorage},
		{Name: "b", Type: "array<f32>", Binding: compiler.Binding{Group: 0, Index: 2}, Kind: compiler.ResourceReadOnlyStorage},
		{Name: "out", Type: "array<f32>", Binding: compiler.Binding{Group: 1, Index: 0}, Kind: compiler.ResourceStorage},
	}, ep.Parameters)

	res := ep.Resources()
	require.Len(t, res, 4)
	assert.Equal(t, "params", res[0].Name)

	_, ok := r.Entry("vs")
	assert.False(t, ok, "vertex entry points are not reflected")
}

func TestReflectErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no workgroup size", "@compute fn main() {}"},
		{"zero workgroup size", "@compute @workgroup_size(0) fn main() {}"},
		{"undefined identifier", "@compute @workgroup_size(1) fn main() { let x = missing; }"},
		{"unbalanced body", "@compute @workgroup_size(1) fn main() { if (true) {"},
		{"malformed parameter", "@compute @workgroup_size(1) fn main(id) {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reflect(tt.src)
			assert.ErrorIs(t, err, compiler.ErrSyntax)
		})
	}
}

func TestReflectConstWorkgroup(t *testing.T) {
	r, err := Reflect(`
const WG: u32 = 16u * 4u;
@group(0) @binding(0) var<storage, read_write> out: array<f32>;
@compute @workgroup_size(WG)
fn main(@builtin(global_invocation_id) id: vec3<u32>) { out[id.x] = 1.0; }
`)
	require.NoError(t, err)
	ep, ok := r.Entry("main")
	require.True(t, ok)
	assert.Equal(t, [3]uint32{64, 1, 1}, ep.WorkgroupSize)
}

func TestReflectShadowedGlobal(t *testing.T) {
	r, err := Reflect(`
@group(0) @binding(0) var<storage, read_write> out: array<f32>;
@group(0) @binding(1) var<storage, read> scale: array<f32>;
@compute @workgroup_size(8)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let scale = 2.0;
    out[id.x] = scale;
}
`)
	require.NoError(t, err)
	ep, ok := r.Entry("main")
	require.True(t, ok)
	res := ep.Resources()
	require.Len(t, res, 1)
	assert.Equal(t, "out", res[0].Name)
}

func preprocessSession(macros ...compiler.SessionOption) *compiler.Session {
	fsys := fstest.MapFS{
		"kernels/main.wgsl": {Data: []byte(`#include "lib/math.wgsl"
#include "common.wgsl"
#define SCALE 2.0
@compute @workgroup_size(N)
fn main() { let x = twice(SCALE); }
`)},
		"kernels/lib/math.wgsl": {Data: []byte(`#include "../common.wgsl"
fn twice(x: f32) -> f32 { return x * 2.0; }
`)},
		"kernels/common.wgsl": {Data: []byte("const N = 8u;\n")},
	}
	opts := append([]compiler.SessionOption{compiler.WithSource("mem", fsys)}, macros...)
	return compiler.NewSession(opts...)
}

func TestPreprocessIncludesOnce(t *testing.T) {
	s := preprocessSession()
	src, err := s.ReadFile("kernels/main.wgsl")
	require.NoError(t, err)

	text, err := Preprocess(s, "kernels/main.wgsl", string(src))
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(text, "const N = 8u;"))
	assert.Contains(t, text, "fn twice(")
	assert.Contains(t, text, "twice(2.0)")
	assert.NotContains(t, text, "#include")
	assert.NotContains(t, text, "#define")

	r, err := Reflect(text)
	require.NoError(t, err)
	ep, ok := r.Entry("main")
	require.True(t, ok)
	assert.Equal(t, [3]uint32{8, 1, 1}, ep.WorkgroupSize)
}

func TestPreprocessMacroPrecedence(t *testing.T) {
	s := preprocessSession(compiler.WithMacro("SCALE", "3.0"))
	src, err := s.ReadFile("kernels/main.wgsl")
	require.NoError(t, err)

	text, err := Preprocess(s, "kernels/main.wgsl", string(src))
	require.NoError(t, err)
	assert.Contains(t, text, "twice(3.0)", "session macros override #define")

	text, err = Preprocess(s, "kernels/main.wgsl", string(src), compiler.Macro{Name: "SCALE", Value: "4.0"})
	require.NoError(t, err)
	assert.Contains(t, text, "twice(4.0)", "call macros override session macros")
}

func TestPreprocessWholeIdentifiers(t *testing.T) {
	text, err := Preprocess(nil, "x.wgsl", "let NN = N + N_MAX;",
		compiler.Macro{Name: "N", Value: "4"}, compiler.Macro{Name: "N_MAX", Value: "16"})
	require.NoError(t, err)
	assert.Equal(t, "let NN = 4 + 16;\n", text)
}

func TestPreprocessMissingInclude(t *testing.T) {
	_, err := Preprocess(preprocessSession(), "kernels/main.wgsl", `#include "nope.wgsl"`)
	assert.ErrorIs(t, err, compiler.ErrModuleNotFound)

	_, err = Preprocess(nil, "main.wgsl", `#include "nope.wgsl"`)
	assert.ErrorIs(t, err, compiler.ErrModuleNotFound)
}

func compileSession() (*Compiler, fstest.MapFS) {
	fsys := fstest.MapFS{
		"add.wgsl": {Data: []byte(`#include "helper.wgsl"
@group(0) @binding(0) var<storage, read_write> out: array<u32>;

fn plain() {}

@compute @workgroup_size(WG)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    out[id.x] = id.x;
}
`)},
		"helper.wgsl": {Data: []byte("const WG = 32u;\n@compute @workgroup_size(1) fn hidden() {}\n")},
	}
	return NewCompiler(compiler.NewSession(compiler.WithSource("mem", fsys))), fsys
}

func TestCompileWGSL(t *testing.T) {
	c, _ := compileSession()
	ctx := context.Background()

	prog, err := c.Compile(ctx, "add.wgsl", compiler.TargetWGSL, "main")
	require.NoError(t, err)
	assert.Equal(t, "add", prog.Module)
	assert.Equal(t, compiler.TargetWGSL, prog.Target)
	require.Len(t, prog.Reflection.EntryPoints, 1)
	ep := prog.Reflection.EntryPoints[0]
	assert.Equal(t, [3]uint32{32, 1, 1}, ep.WorkgroupSize)
	require.Len(t, ep.Resources(), 1)
	assert.Equal(t, compiler.Binding{Group: 0, Index: 0}, ep.Resources()[0].Binding)

	fp, err := c.Fingerprint("add")
	require.NoError(t, err)
	assert.Equal(t, string(fp), string(prog.Code))
}

func TestCompileEntrySelection(t *testing.T) {
	c, _ := compileSession()
	ctx := context.Background()

	prog, err := c.Compile(ctx, "add", compiler.TargetWGSL, "hidden")
	require.NoError(t, err, "entry points in includes are selectable")
	assert.Equal(t, [3]uint32{1, 1, 1}, prog.Reflection.EntryPoints[0].WorkgroupSize)
	assert.Empty(t, prog.Reflection.EntryPoints[0].Resources())

	_, err = c.Compile(ctx, "add", compiler.TargetWGSL, "vanished")
	assert.ErrorIs(t, err, compiler.ErrEntryNotFound)

	_, err = c.Compile(ctx, "add", compiler.TargetWGSL, "plain")
	assert.ErrorIs(t, err, compiler.ErrEntryNotFound)

	_, err = c.Compile(ctx, "missing", compiler.TargetWGSL, "main")
	assert.ErrorIs(t, err, compiler.ErrModuleNotFound)
}

func TestCompileTargets(t *testing.T) {
	c, fsys := compileSession()
	ctx := context.Background()

	prog, err := c.Compile(ctx, "add", compiler.TargetHost, "main")
	require.NoError(t, err)
	name, ok := compiler.ParseHostCode(prog.Code)
	require.True(t, ok)
	assert.Equal(t, "add", name)

	_, err = c.Compile(ctx, "add", compiler.TargetPTX, "main")
	assert.ErrorIs(t, err, compiler.ErrUnsupportedTarget)

	fsys["add.ptx"] = &fstest.MapFile{Data: []byte(".version 7.0\n")}
	prog, err = c.Compile(ctx, "add", compiler.TargetPTX, "main")
	require.NoError(t, err)
	assert.Equal(t, ".version 7.0\n", string(prog.Code))
	assert.Len(t, prog.Reflection.EntryPoints, 1)

	_, err = c.Compile(ctx, "add", compiler.Target(99), "main")
	assert.ErrorIs(t, err, compiler.ErrUnsupportedTarget)
}

func TestCompileSPIRV(t *testing.T) {
	c, _ := compileSession()

	prog, err := c.Compile(context.Background(), "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(prog.Code), 20)
	assert.Equal(t, []byte{0x03, 0x02, 0x23, 0x07}, prog.Code[:4], "SPIR-V magic")
	assert.Equal(t, "main", prog.Reflection.EntryPoints[0].Name)
}

func TestCompileCanceled(t *testing.T) {
	c, _ := compileSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compile(ctx, "add", compiler.TargetWGSL, "main")
	assert.ErrorIs(t, err, context.Canceled)
}
