// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gpuhal"
)

func TestBufferRoundtrip(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()
	buf := mustBuffer(t, b, []int32{1, 2, 3, 4, 5, 6})

	if buf.Len() != 6 || buf.Stride() != 4 || buf.Raw().Size() != 24 {
		t.Fatalf("Len %d Stride %d Size %d", buf.Len(), buf.Stride(), buf.Raw().Size())
	}
	if buf.Usage() != gpuhal.UsageStorage {
		t.Errorf("Usage() = %v", buf.Usage())
	}

	if err := gpuhal.WriteBuffer(b, buf.Slice(2, 4), []int32{30, 40}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got, err := gpuhal.SlowReadVec(ctx, b, buf.All())
	if err != nil {
		t.Fatalf("SlowReadVec: %v", err)
	}
	want := []int32{1, 2, 30, 40, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after write: %v, want %v", got, want)
		}
	}

	part := make([]int32, 2)
	if err := gpuhal.ReadBuffer(ctx, b, buf.Slice(3, 6), part); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if part[0] != 40 || part[1] != 5 {
		t.Errorf("ReadBuffer of a view = %v", part)
	}
}

func TestSliceViews(t *testing.T) {
	b := newFakeBackend()
	buf := mustBuffer(t, b, make([]uint64, 10))

	s := buf.Slice(2, 8).Slice(1, 3)
	if s.Len() != 2 || s.Offset() != 3 || s.Buffer() != buf {
		t.Errorf("nested view: len %d offset %d", s.Len(), s.Offset())
	}
	if r := s.Range(); r.Offset != 24 || r.Size != 16 {
		t.Errorf("Range() = [%d, +%d)", r.Offset, r.Size)
	}
	if e := buf.Slice(10, 10); e.Len() != 0 {
		t.Errorf("empty tail view has length %d", e.Len())
	}

	for _, bounds := range [][2]int{{-1, 2}, {3, 2}, {0, 11}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Slice(%d, %d) did not panic", bounds[0], bounds[1])
				}
			}()
			buf.Slice(bounds[0], bounds[1])
		}()
	}
}

func TestBufferContracts(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()
	buf := mustBuffer(t, b, make([]float32, 4))

	if err := gpuhal.WriteBuffer(b, buf.Slice(0, 2), make([]float32, 3)); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("oversized write: %v", err)
	}
	if err := gpuhal.ReadBuffer(ctx, b, buf.Slice(0, 2), make([]float32, 3)); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("oversized read: %v", err)
	}
	if err := gpuhal.WriteBuffer(b, gpuhal.Slice[float32]{}, nil); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("write to a zero view: %v", err)
	}
	if _, err := gpuhal.InitBuffer(b, []string{"x"}, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("InitBuffer of strings: %v", err)
	}
	if _, err := gpuhal.UninitBuffer[*int](b, 1, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("UninitBuffer of pointers: %v", err)
	}
	if _, err := gpuhal.UninitBuffer[float32](b, -1, gpuhal.UsageStorage); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("negative length: %v", err)
	}
}

func TestEmptyBuffersGetMinimumSize(t *testing.T) {
	b := newFakeBackend()
	buf, err := gpuhal.UninitBuffer[float32](b, 0, gpuhal.UsageStorage)
	if err != nil {
		t.Fatalf("UninitBuffer: %v", err)
	}
	if buf.Len() != 0 || buf.Raw().Size() != 4 {
		t.Errorf("empty buffer: len %d size %d", buf.Len(), buf.Raw().Size())
	}

	b.limits.MinBufferSize = 32
	small, err := gpuhal.InitBuffer(b, []uint32{1}, gpuhal.UsageStorage)
	if err != nil {
		t.Fatalf("InitBuffer: %v", err)
	}
	if small.Len() != 1 || small.Raw().Size() != 32 {
		t.Errorf("small buffer: len %d size %d, want 1 and the backend minimum 32", small.Len(), small.Raw().Size())
	}
}

func TestCopyBuffer(t *testing.T) {
	b := newFakeBackend()
	src := mustBuffer(t, b, []uint32{1, 2, 3, 4})
	dst := mustBuffer(t, b, make([]uint32, 4))

	enc, err := b.BeginEncoding()
	if err != nil {
		t.Fatal(err)
	}
	if err := gpuhal.CopyBuffer(enc, src.Slice(1, 3), dst.Slice(0, 2)); err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	if err := gpuhal.CopyBuffer(enc, src.Slice(0, 3), dst.Slice(0, 2)); !errors.Is(err, gpuhal.ErrContract) {
		t.Errorf("mismatched copy: %v", err)
	}
	if err := b.Submit(enc); err != nil {
		t.Fatal(err)
	}

	got, err := gpuhal.SlowReadVec(context.Background(), b, dst.All())
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 2 || got[1] != 3 || got[2] != 0 {
		t.Errorf("dst = %v", got)
	}
}

func TestDestroyIsSafeOnNil(t *testing.T) {
	var buf *gpuhal.Buffer[float32]
	buf.Destroy()

	b := newFakeBackend()
	real := mustBuffer(t, b, []float32{1})
	real.Destroy()
	real.Destroy()
	if !b.buffers[0].destroyed {
		t.Error("Destroy did not release the raw buffer")
	}
}
