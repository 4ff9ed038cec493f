// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"fmt"

	"github.com/gogpu/gpuhal/layout"
)

// ShaderType is implemented by element types whose device layout differs
// from their Go layout. ShaderSize is the element stride on the device and
// must not depend on the receiver's value.
type ShaderType interface {
	ShaderSize() uint64
	WriteShader(w *layout.Writer) error
}

// ShaderValue constrains encased element types: *T encodes and decodes T.
type ShaderValue[T any] interface {
	*T
	ShaderType
	ReadShader(r *layout.Reader) error
}

// InitEncased creates a buffer holding the encoding of data.
func InitEncased[T any, P ShaderValue[T]](b Backend, data []T, usage BufferUsage) (*Buffer[T], error) {
	stride, err := encasedStride[T, P]()
	if err != nil {
		return nil, err
	}
	enc, err := encodeAll[T, P](data, stride)
	if err != nil {
		return nil, err
	}
	return newBuffer[T](b, len(data), stride, true, usage, enc)
}

// UninitEncased creates an encased buffer of n elements without
// initializing it.
func UninitEncased[T any, P ShaderValue[T]](b Backend, n int, usage BufferUsage) (*Buffer[T], error) {
	stride, err := encasedStride[T, P]()
	if err != nil {
		return nil, err
	}
	return newBuffer[T](b, n, stride, true, usage, nil)
}

// WriteEncased encodes data into the first len(data) elements of dst.
func WriteEncased[T any, P ShaderValue[T]](b Backend, dst Slice[T], data []T) error {
	if err := checkEncasedSlice(dst); err != nil {
		return err
	}
	if len(data) > dst.n {
		return fmt.Errorf("%w: write of %d elements into a view of %d", ErrContract, len(data), dst.n)
	}
	if len(data) == 0 {
		return nil
	}
	enc, err := encodeAll[T, P](data, dst.buf.stride)
	if err != nil {
		return err
	}
	r := dst.Range()
	return b.WriteBuffer(r.Buffer, r.Offset, enc)
}

// ReadEncased decodes all of src from a host-mappable buffer.
func ReadEncased[T any, P ShaderValue[T]](ctx context.Context, b Backend, src Slice[T]) ([]T, error) {
	return readEncased[T, P](ctx, src, b.ReadBuffer)
}

// SlowReadEncased decodes all of src through a staging buffer.
func SlowReadEncased[T any, P ShaderValue[T]](ctx context.Context, b Backend, src Slice[T]) ([]T, error) {
	return readEncased[T, P](ctx, src, b.SlowReadBuffer)
}

type readFunc func(ctx context.Context, src RawBuffer, offset uint64, dst []byte) error

func readEncased[T any, P ShaderValue[T]](ctx context.Context, src Slice[T], read readFunc) ([]T, error) {
	if err := checkEncasedSlice(src); err != nil {
		return nil, err
	}
	out := make([]T, src.n)
	if src.n == 0 {
		return out, nil
	}
	r := src.Range()
	raw := make([]byte, r.Size)
	if err := read(ctx, r.Buffer, r.Offset, raw); err != nil {
		return nil, err
	}
	stride := src.buf.stride
	for i := range out {
		rd := layout.NewReader(raw[uint64(i)*stride : uint64(i+1)*stride])
		if err := P(&out[i]).ReadShader(rd); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrSerialization, i, err)
		}
		if err := rd.Err(); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrSerialization, i, err)
		}
	}
	return out, nil
}

func encasedStride[T any, P ShaderValue[T]]() (uint64, error) {
	var zero T
	stride := P(&zero).ShaderSize()
	if stride == 0 || stride%4 != 0 {
		return 0, fmt.Errorf("%w: %T has device size %d, want a positive multiple of 4", ErrSerialization, zero, stride)
	}
	return stride, nil
}

func encodeAll[T any, P ShaderValue[T]](data []T, stride uint64) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	w := layout.NewWriter(int(stride) * len(data))
	for i := range data {
		start := w.Len()
		if err := P(&data[i]).WriteShader(w); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrSerialization, i, err)
		}
		if n := uint64(w.Len() - start); n > stride {
			return nil, fmt.Errorf("%w: element %d encoded to %d bytes, stride is %d", ErrSerialization, i, n, stride)
		}
		w.PadTo(start + int(stride))
	}
	return w.Bytes(), nil
}

func checkEncasedSlice[T any](s Slice[T]) error {
	if s.buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrContract)
	}
	if !s.buf.encased {
		return fmt.Errorf("%w: encased operation on a plain buffer", ErrContract)
	}
	return nil
}
