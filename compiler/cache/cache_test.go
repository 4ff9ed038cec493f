// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/compiler/wgsl"
)

// countingCompiler records how often each compilation actually runs.
type countingCompiler struct {
	calls       atomic.Int32
	fingerprint []byte
	err         error
}

func (c *countingCompiler) Compile(_ context.Context, module string, target compiler.Target, entry string, _ ...compiler.Macro) (*compiler.Program, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &compiler.Program{
		Module: module,
		Target: target,
		Code:   []byte("code:" + module + ":" + entry),
		Reflection: compiler.Reflection{EntryPoints: []compiler.EntryPoint{{
			Name:          entry,
			WorkgroupSize: [3]uint32{64, 1, 1},
			Parameters: []compiler.Parameter{
				{Name: "out", Type: "array<f32>", Binding: compiler.Binding{Group: 0, Index: 1}, Kind: compiler.ResourceStorage},
				{Name: "id", Type: "vec3<u32>", Semantic: "global_invocation_id"},
			},
		}}},
	}, nil
}

func (c *countingCompiler) Fingerprint(module string, _ ...compiler.Macro) ([]byte, error) {
	return append([]byte(module+"@"), c.fingerprint...), nil
}

// plainCompiler has no Fingerprint method.
type plainCompiler struct{ inner countingCompiler }

func (p *plainCompiler) Compile(ctx context.Context, module string, target compiler.Target, entry string, macros ...compiler.Macro) (*compiler.Program, error) {
	return p.inner.Compile(ctx, module, target, entry, macros...)
}

func TestCacheHit(t *testing.T) {
	inner := &countingCompiler{fingerprint: []byte("v1")}
	c := New(inner)
	ctx := context.Background()

	first, err := c.Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)
	second, err := c.Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())

	s := c.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.Equal(t, 1, s.Len)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestKeyInputs(t *testing.T) {
	inner := &countingCompiler{fingerprint: []byte("v1")}
	c := New(inner)
	ctx := context.Background()

	compile := func(module string, target compiler.Target, entry string, macros ...compiler.Macro) {
		t.Helper()
		_, err := c.Compile(ctx, module, target, entry, macros...)
		require.NoError(t, err)
	}
	compile("add", compiler.TargetSPIRV, "main")
	compile("add", compiler.TargetWGSL, "main")
	compile("add", compiler.TargetSPIRV, "other")
	compile("mul", compiler.TargetSPIRV, "main")
	compile("add", compiler.TargetSPIRV, "main", compiler.Macro{Name: "N", Value: "4"})
	compile("add", compiler.TargetSPIRV, "main", compiler.Macro{Name: "N", Value: "8"})
	assert.EqualValues(t, 6, inner.calls.Load())

	inner.fingerprint = []byte("v2")
	compile("add", compiler.TargetSPIRV, "main")
	assert.EqualValues(t, 7, inner.calls.Load(), "a new fingerprint must recompile")
}

func TestKeyFieldBoundaries(t *testing.T) {
	a := Key("m", compiler.TargetWGSL, "e", []compiler.Macro{{Name: "A", Value: "BC"}}, nil)
	b := Key("m", compiler.TargetWGSL, "e", []compiler.Macro{{Name: "AB", Value: "C"}}, nil)
	assert.NotEqual(t, a, b)

	c := Key("ab", compiler.TargetWGSL, "c", nil, nil)
	d := Key("a", compiler.TargetWGSL, "bc", nil, nil)
	assert.NotEqual(t, c, d)

	assert.Equal(t, a, Key("m", compiler.TargetWGSL, "e", []compiler.Macro{{Name: "A", Value: "BC"}}, nil))
}

func TestDiskSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	inner := &countingCompiler{fingerprint: []byte("v1")}
	want, err := New(inner, WithDir(dir)).Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	restarted := &countingCompiler{fingerprint: []byte("v1")}
	c := New(restarted, WithDir(dir))
	got, err := c.Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)

	assert.EqualValues(t, 0, restarted.calls.Load())
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Reflection, got.Reflection)
	assert.Equal(t, want.Target, got.Target)
	assert.EqualValues(t, 1, c.Stats().DiskHits)

	require.NoError(t, c.Clear())
	files, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Zero(t, c.Stats().Len)
}

func TestCorruptEntryRecompiles(t *testing.T) {
	dir := t.TempDir()
	inner := &countingCompiler{fingerprint: []byte("v1")}
	c := New(inner, WithDir(dir))

	key := Key("add", compiler.TargetSPIRV, "main", nil, []byte("add@v1"))
	require.NoError(t, os.WriteFile(c.disk.path(key), []byte{0xff, 0x00, 0x13}, 0o644))

	prog, err := c.Compile(context.Background(), "add", compiler.TargetSPIRV, "main")
	require.NoError(t, err)
	assert.Equal(t, "code:add:main", string(prog.Code))
	assert.EqualValues(t, 1, inner.calls.Load())

	// The rewritten entry is readable.
	loaded, ok, err := c.disk.load(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prog.Code, loaded.Code)
}

func TestPTXBypassesCache(t *testing.T) {
	dir := t.TempDir()
	inner := &countingCompiler{fingerprint: []byte("v1")}
	c := New(inner, WithDir(dir))
	ctx := context.Background()

	for range 2 {
		_, err := c.Compile(ctx, "add", compiler.TargetPTX, "main")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.EqualValues(t, 2, c.Stats().Bypassed)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWithoutFingerprintBypasses(t *testing.T) {
	inner := &plainCompiler{}
	c := New(inner)
	for range 3 {
		_, err := c.Compile(context.Background(), "add", compiler.TargetWGSL, "main")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, inner.inner.calls.Load())
	assert.Zero(t, c.Stats().Len)
}

func TestErrorsAreNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingCompiler{err: boom}
	c := New(inner)
	ctx := context.Background()

	_, err := c.Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.ErrorIs(t, err, boom)
	_, err = c.Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCanceledContext(t *testing.T) {
	inner := &countingCompiler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(inner).Compile(ctx, "add", compiler.TargetSPIRV, "main")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.calls.Load())
}

func TestConcurrentCompileRunsOnce(t *testing.T) {
	inner := &countingCompiler{fingerprint: []byte("v1")}
	c := New(inner)

	var wg sync.WaitGroup
	progs := make([]*compiler.Program, 32)
	for i := range progs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Compile(context.Background(), "add", compiler.TargetSPIRV, "main")
			assert.NoError(t, err)
			progs[i] = p
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, inner.calls.Load())
	for _, p := range progs {
		assert.Same(t, progs[0], p)
	}
}

func TestMemoryEviction(t *testing.T) {
	m := newMemory(2)
	// Keys 0, 16 and 32 share shard 0.
	for _, k := range []uint64{0, 16, 32} {
		m.add(k, &compiler.Program{Module: "m"})
	}
	_, ok := m.get(0)
	assert.False(t, ok, "oldest entry should be evicted")
	assert.EqualValues(t, 1, m.evictions.Load())

	// Touching 16 makes 32 the next victim.
	_, ok = m.get(16)
	require.True(t, ok)
	m.add(48, &compiler.Program{Module: "m"})
	_, ok = m.get(32)
	assert.False(t, ok)
	_, ok = m.get(16)
	assert.True(t, ok)
	assert.Equal(t, 2, m.len())

	m.purge()
	assert.Zero(t, m.len())
}

func TestLRUList(t *testing.T) {
	var l lruList
	a, b, c := &node{key: 1}, &node{key: 2}, &node{key: 3}
	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	require.Equal(t, 3, l.len)

	l.moveToFront(a)
	assert.Same(t, a, l.head)
	assert.Same(t, b, l.tail)

	assert.Same(t, b, l.removeOldest())
	assert.Same(t, c, l.removeOldest())
	assert.Same(t, a, l.removeOldest())
	assert.Nil(t, l.removeOldest())
	assert.Zero(t, l.len)
}

func TestWGSLIncludeInvalidates(t *testing.T) {
	fsys := fstest.MapFS{
		"fill.wgsl": {Data: []byte(`#include "value.wgsl"

@group(0) @binding(0) var<storage, read_write> out: array<f32>;

@compute @workgroup_size(64)
fn fill(@builtin(global_invocation_id) id: vec3<u32>) {
    out[id.x] = VALUE;
}
`)},
		"value.wgsl": {Data: []byte("const VALUE: f32 = 1.0;\n")},
	}
	c := New(wgsl.NewCompiler(compiler.NewSession(compiler.WithSource("mem", fsys))))
	ctx := context.Background()

	first, err := c.Compile(ctx, "fill", compiler.TargetWGSL, "fill")
	require.NoError(t, err)
	assert.Contains(t, string(first.Code), "1.0")

	again, err := c.Compile(ctx, "fill", compiler.TargetWGSL, "fill")
	require.NoError(t, err)
	assert.Same(t, first, again)

	fsys["value.wgsl"] = &fstest.MapFile{Data: []byte("const VALUE: f32 = 2.0;\n")}
	changed, err := c.Compile(ctx, "fill", compiler.TargetWGSL, "fill")
	require.NoError(t, err)
	assert.Contains(t, string(changed.Code), "2.0")
	assert.EqualValues(t, 2, c.Stats().Misses)
}
