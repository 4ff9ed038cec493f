// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/layout"
)

// particle has a std430 layout of 32 bytes: pos at 0, mass at 12, vel at 16.
type particle struct {
	Pos  [3]float32
	Mass float32
	Vel  [3]float32
}

func (p *particle) ShaderSize() uint64 { return 32 }

func (p *particle) WriteShader(w *layout.Writer) error {
	w.Vec3(p.Pos)
	w.Float32(p.Mass)
	w.Vec3(p.Vel)
	return w.End(16)
}

func (p *particle) ReadShader(r *layout.Reader) error {
	p.Pos = r.Vec3()
	p.Mass = r.Float32()
	p.Vel = r.Vec3()
	return nil
}

// oddSize declares a stride that is not a multiple of 4.
type oddSize struct{ V uint32 }

func (o *oddSize) ShaderSize() uint64                 { return 6 }
func (o *oddSize) WriteShader(w *layout.Writer) error { w.Uint32(o.V); return nil }
func (o *oddSize) ReadShader(r *layout.Reader) error  { o.V = r.Uint32(); return nil }

// tooLong encodes more bytes than its stride.
type tooLong struct{ V uint32 }

func (o *tooLong) ShaderSize() uint64                 { return 4 }
func (o *tooLong) WriteShader(w *layout.Writer) error { w.Uint32(o.V); w.Uint32(o.V); return nil }
func (o *tooLong) ReadShader(r *layout.Reader) error  { o.V = r.Uint32(); return nil }

func TestEncasedRoundtrip(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()
	in := []particle{
		{Pos: [3]float32{1, 2, 3}, Mass: 4, Vel: [3]float32{5, 6, 7}},
		{Pos: [3]float32{-1, -2, -3}, Mass: 0.5, Vel: [3]float32{0, 0, 1}},
		{Mass: 9},
	}
	buf, err := gpuhal.InitEncased(b, in, gpuhal.UsageStorage)
	if err != nil {
		t.Fatalf("InitEncased: %v", err)
	}
	if !buf.Encased() || buf.Stride() != 32 || buf.Raw().Size() != 96 {
		t.Fatalf("encased %v stride %d size %d", buf.Encased(), buf.Stride(), buf.Raw().Size())
	}

	raw := b.buffers[0].data
	if got := raw[12:16]; got[0] != 0 || got[3] != 0x40 {
		t.Errorf("mass of particle 0 not at offset 12: % x", raw[:32])
	}

	out, err := gpuhal.ReadEncased(ctx, b, buf.All())
	if err != nil {
		t.Fatalf("ReadEncased: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("particle %d = %+v, want %+v", i, out[i], in[i])
		}
	}

	upd := particle{Pos: [3]float32{7, 7, 7}, Mass: 1}
	if err := gpuhal.WriteEncased(b, buf.Slice(1, 2), []particle{upd}); err != nil {
		t.Fatalf("WriteEncased: %v", err)
	}
	tail, err := gpuhal.SlowReadEncased(ctx, b, buf.Slice(1, 3))
	if err != nil {
		t.Fatalf("SlowReadEncased: %v", err)
	}
	if tail[0] != upd || tail[1] != in[2] {
		t.Errorf("after update: %+v", tail)
	}

	if r := buf.Slice(1, 2).Range(); r.Offset != 32 || r.Size != 32 {
		t.Errorf("encased view range = [%d, +%d)", r.Offset, r.Size)
	}
}

func TestEncasedAndPlainDoNotMix(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()

	enc, err := gpuhal.UninitEncased[particle](b, 2, gpuhal.UsageStorage)
	if err != nil {
		t.Fatalf("UninitEncased: %v", err)
	}

	if _, err := gpuhal.InitBuffer(b, []particle{{}}, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("InitBuffer of an encased type: %v", err)
	}
	if err := gpuhal.ReadBuffer(ctx, b, enc.All(), make([]particle, 1)); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("plain read of an encased buffer: %v", err)
	}
	if err := gpuhal.WriteBuffer(b, enc.All(), []particle{{}}); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("plain write of an encased buffer: %v", err)
	}
	if _, err := gpuhal.ReadEncased(ctx, b, gpuhal.Slice[particle]{}); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("encased read of a zero view: %v", err)
	}
	if err := gpuhal.WriteEncased(b, enc.All(), make([]particle, 3)); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("oversized encased write: %v", err)
	}
}

func TestEncasedSerializationErrors(t *testing.T) {
	b := newFakeBackend()
	if _, err := gpuhal.InitEncased(b, []oddSize{{1}}, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrSerialization) {
		t.Errorf("odd stride: %v", err)
	}
	if _, err := gpuhal.InitEncased(b, []tooLong{{1}}, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrSerialization) {
		t.Errorf("oversized element: %v", err)
	}
}

func TestEncasedBindsWithDeviceStride(t *testing.T) {
	b := newFakeBackend()
	prog := hostProgram("sim", "step", [3]uint32{64, 1, 1}, res("particles", 0))
	f := mustFunction(t, b, prog, "step")
	buf, err := gpuhal.InitEncased(b, make([]particle, 4), gpuhal.UsageStorage)
	if err != nil {
		t.Fatal(err)
	}

	err = record(t, b, func(p gpuhal.Pass) error {
		return f.Launch(p, gpuhal.Args{"particles": buf.Slice(1, 3)}, [3]uint32{2, 1, 1})
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	r := b.launches[0].ranges[gpuhal.Binding{Group: 0, Index: 0}]
	if r.Offset != 32 || r.Size != 64 {
		t.Errorf("bound [%d, +%d), want [32, +64)", r.Offset, r.Size)
	}
}
