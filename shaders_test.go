// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
)

type mathKernels struct {
	Add       *gpuhal.CompiledFunction `shader:"kernels/math"`
	ReduceSum *gpuhal.CompiledFunction `shader:"kernels/math"`
	Scale     *gpuhal.CompiledFunction `shader:"kernels/math:scale_by"`
	Cached    *gpuhal.CompiledFunction
}

func mathCompiler() *fakeCompiler {
	ep := func(name string, x uint32) compiler.EntryPoint {
		return compiler.EntryPoint{
			Name:          name,
			WorkgroupSize: [3]uint32{x, 1, 1},
			Parameters:    []compiler.Parameter{res("data", 0)},
		}
	}
	return &fakeCompiler{entries: map[string]compiler.EntryPoint{
		"kernels/math:add":        ep("add", 64),
		"kernels/math:reduce_sum": ep("reduce_sum", 256),
		"kernels/math:scale_by":   ep("scale_by", 32),
	}}
}

func TestLoadShaders(t *testing.T) {
	b := newFakeBackend()
	c := mathCompiler()

	var k mathKernels
	if err := gpuhal.LoadShaders(context.Background(), b, c, &k); err != nil {
		t.Fatalf("LoadShaders: %v", err)
	}
	if k.Add == nil || k.ReduceSum == nil || k.Scale == nil {
		t.Fatalf("fields not loaded: %+v", k)
	}
	if k.Cached != nil {
		t.Error("untagged field was set")
	}
	if k.ReduceSum.Entry() != "reduce_sum" || k.ReduceSum.BlockDim()[0] != 256 {
		t.Errorf("ReduceSum = %s %v", k.ReduceSum.Entry(), k.ReduceSum.BlockDim())
	}
	if k.Scale.Entry() != "scale_by" || k.Scale.BlockDim()[0] != 32 {
		t.Errorf("Scale = %s %v", k.Scale.Entry(), k.Scale.BlockDim())
	}
	if c.calls != 3 {
		t.Errorf("compiler called %d times, want 3", c.calls)
	}
	if n := b.liveModules(); n != 3 {
		t.Errorf("%d live modules, want 3", n)
	}

	gpuhal.DestroyShaders(&k)
	if k.Add != nil || k.ReduceSum != nil || k.Scale != nil {
		t.Error("DestroyShaders left fields set")
	}
	if n := b.liveModules(); n != 0 {
		t.Errorf("%d live modules after DestroyShaders", n)
	}
}

func TestLoadShadersAllOrNothing(t *testing.T) {
	type broken struct {
		Add     *gpuhal.CompiledFunction `shader:"kernels/math"`
		Missing *gpuhal.CompiledFunction `shader:"kernels/math:nope"`
	}
	b := newFakeBackend()

	var k broken
	err := gpuhal.LoadShaders(context.Background(), b, mathCompiler(), &k)
	if !errors.Is(err, gpuhal.ErrFunctionNotFound) {
		t.Fatalf("err = %v, want ErrFunctionNotFound", err)
	}
	if !strings.Contains(err.Error(), "broken.Missing") {
		t.Errorf("error does not name the field: %v", err)
	}
	if k.Add != nil || k.Missing != nil {
		t.Error("dst modified on failure")
	}
	if n := b.liveModules(); n != 0 {
		t.Errorf("%d modules leaked", n)
	}
}

func TestLoadShadersRejectsBadTargets(t *testing.T) {
	type wrongType struct {
		F gpuhal.Function `shader:"kernels/math"`
	}
	type emptyModule struct {
		F *gpuhal.CompiledFunction `shader:":add"`
	}
	b := newFakeBackend()
	c := mathCompiler()
	ctx := context.Background()

	for name, dst := range map[string]any{
		"not a pointer": mathKernels{},
		"nil pointer":   (*mathKernels)(nil),
		"not a struct":  new(int),
		"wrong field":   &wrongType{},
		"empty module":  &emptyModule{},
	} {
		if err := gpuhal.LoadShaders(ctx, b, c, dst); !errors.Is(err, gpuhal.ErrContract) {
			t.Errorf("%s: err = %v, want ErrContract", name, err)
		}
	}
	if c.calls != 0 {
		t.Errorf("compiler called %d times for invalid sets", c.calls)
	}
}

func TestLoadLogsThroughSetLogger(t *testing.T) {
	orig := gpuhal.Logger()
	t.Cleanup(func() { gpuhal.SetLogger(orig) })

	var buf bytes.Buffer
	gpuhal.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	b := newFakeBackend()
	var k mathKernels
	if err := gpuhal.LoadShaders(context.Background(), b, mathCompiler(), &k); err != nil {
		t.Fatal(err)
	}
	defer gpuhal.DestroyShaders(&k)

	out := buf.String()
	for _, want := range []string{"gpuhal: function loaded", "entry=reduce_sum", "gpuhal: shaders loaded", "functions=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q:\n%s", want, out)
		}
	}
}
