// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"fmt"
)

// Buffer is a fixed-length, device-resident array of T.
//
// The element type is either plain (copied byte for byte, see InitBuffer)
// or encased (encoded through a ShaderValue, see InitEncased). The kind is
// fixed at creation and operations of the other kind fail with
// ErrContract.
//
// A Buffer is owned by its creator. Destroy releases the device memory;
// slices of a destroyed buffer must not be used.
type Buffer[T any] struct {
	raw     RawBuffer
	n       int
	stride  uint64
	encased bool
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int { return b.n }

// Stride returns the size of one element on the device.
func (b *Buffer[T]) Stride() uint64 { return b.stride }

// Raw returns the underlying allocation.
func (b *Buffer[T]) Raw() RawBuffer { return b.raw }

// Usage returns the buffer's usage flags.
func (b *Buffer[T]) Usage() BufferUsage { return b.raw.Usage() }

// Encased reports whether elements are encoded through a ShaderValue.
func (b *Buffer[T]) Encased() bool { return b.encased }

// Destroy releases the device memory.
func (b *Buffer[T]) Destroy() {
	if b != nil && b.raw != nil {
		b.raw.Destroy()
	}
}

// All returns a slice covering the whole buffer.
func (b *Buffer[T]) All() Slice[T] {
	return Slice[T]{buf: b, off: 0, n: b.n}
}

// Slice returns elements [i, j). It panics if 0 <= i <= j <= Len() does
// not hold, like slicing a Go slice.
func (b *Buffer[T]) Slice(i, j int) Slice[T] {
	return b.All().Slice(i, j)
}

// WriteArg binds the whole buffer to any parameter. A nil *Buffer binds
// nothing and reports the argument as missing.
func (b *Buffer[T]) WriteArg(binding Binding, name string, d Dispatch) error {
	if b == nil {
		return NewArgNotFound(name)
	}
	return b.All().WriteArg(binding, name, d)
}

// Slice is a borrowed view of elements of a Buffer. It carries no
// ownership and must not outlive the buffer.
type Slice[T any] struct {
	buf *Buffer[T]
	off int
	n   int
}

// Len returns the number of elements in the view.
func (s Slice[T]) Len() int { return s.n }

// Offset returns the index of the view's first element in the buffer.
func (s Slice[T]) Offset() int { return s.off }

// Buffer returns the buffer the view borrows from.
func (s Slice[T]) Buffer() *Buffer[T] { return s.buf }

// Slice returns elements [i, j) of the view. It panics on an invalid range.
func (s Slice[T]) Slice(i, j int) Slice[T] {
	if i < 0 || j < i || j > s.n {
		panic(fmt.Sprintf("gpuhal: slice bounds out of range [%d:%d] with length %d", i, j, s.n))
	}
	return Slice[T]{buf: s.buf, off: s.off + i, n: j - i}
}

// Range returns the byte range of the view.
func (s Slice[T]) Range() BufferRange {
	return BufferRange{
		Buffer: s.buf.raw,
		Offset: uint64(s.off) * s.buf.stride,
		Size:   uint64(s.n) * s.buf.stride,
	}
}

// WriteArg binds the view to any parameter.
func (s Slice[T]) WriteArg(binding Binding, name string, d Dispatch) error {
	if s.buf == nil {
		return NewArgNotFound(name)
	}
	return d.SetBuffer(binding, s.Range())
}

// InitBuffer creates a buffer holding a copy of data.
func InitBuffer[T any](b Backend, data []T, usage BufferUsage) (*Buffer[T], error) {
	if err := checkPlain[T](); err != nil {
		return nil, err
	}
	return newBuffer[T](b, len(data), sizeOf[T](), false, usage, bytesOf(data))
}

// UninitBuffer creates a buffer of n elements without initializing it.
// Reading it before a write is undefined.
func UninitBuffer[T any](b Backend, n int, usage BufferUsage) (*Buffer[T], error) {
	if err := checkPlain[T](); err != nil {
		return nil, err
	}
	return newBuffer[T](b, n, sizeOf[T](), false, usage, nil)
}

// WriteBuffer copies data into the first len(data) elements of dst.
func WriteBuffer[T any](b Backend, dst Slice[T], data []T) error {
	if err := checkPlainSlice(dst); err != nil {
		return err
	}
	if len(data) > dst.n {
		return fmt.Errorf("%w: write of %d elements into a view of %d", ErrContract, len(data), dst.n)
	}
	if len(data) == 0 {
		return nil
	}
	r := dst.Range()
	return b.WriteBuffer(r.Buffer, r.Offset, bytesOf(data))
}

// ReadBuffer reads len(dst) elements from the start of src. The buffer
// must be host-mappable on backends that distinguish mappable memory;
// use SlowReadBuffer otherwise.
func ReadBuffer[T any](ctx context.Context, b Backend, src Slice[T], dst []T) error {
	if err := checkRead(src, len(dst)); err != nil || len(dst) == 0 {
		return err
	}
	r := src.Range()
	return b.ReadBuffer(ctx, r.Buffer, r.Offset, bytesOf(dst))
}

// SlowReadBuffer reads len(dst) elements from the start of src through a
// temporary staging buffer.
func SlowReadBuffer[T any](ctx context.Context, b Backend, src Slice[T], dst []T) error {
	if err := checkRead(src, len(dst)); err != nil || len(dst) == 0 {
		return err
	}
	r := src.Range()
	return b.SlowReadBuffer(ctx, r.Buffer, r.Offset, bytesOf(dst))
}

// SlowReadVec reads all of src into a new slice.
func SlowReadVec[T any](ctx context.Context, b Backend, src Slice[T]) ([]T, error) {
	out := make([]T, src.n)
	if err := SlowReadBuffer(ctx, b, src, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyBuffer records a device-side copy of src into dst on e.
func CopyBuffer[T any](e Encoder, src, dst Slice[T]) error {
	if src.n != dst.n {
		return fmt.Errorf("%w: copy of %d elements into %d", ErrContract, src.n, dst.n)
	}
	if src.n == 0 {
		return nil
	}
	sr, dr := src.Range(), dst.Range()
	return e.CopyBufferToBuffer(sr.Buffer, sr.Offset, dr.Buffer, dr.Offset, sr.Size)
}

func checkPlainSlice[T any](s Slice[T]) error {
	if s.buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrContract)
	}
	if s.buf.encased {
		return fmt.Errorf("%w: plain operation on an encased buffer", ErrContract)
	}
	return nil
}

func checkRead[T any](src Slice[T], n int) error {
	if err := checkPlainSlice(src); err != nil {
		return err
	}
	if n > src.n {
		return fmt.Errorf("%w: read of %d elements from a view of %d", ErrContract, n, src.n)
	}
	return nil
}

func newBuffer[T any](b Backend, n int, stride uint64, encased bool, usage BufferUsage, contents []byte) (*Buffer[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrContract, n)
	}
	size := stride * uint64(n)
	if minSize := b.Limits().MinBufferSize; size < minSize {
		size = minSize
	}
	if size == 0 {
		size = 4
	}
	raw, err := b.CreateBuffer(BufferDescriptor{
		Size:     size,
		Usage:    usage,
		Contents: contents,
	})
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{raw: raw, n: n, stride: stride, encased: encased}, nil
}
