// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package layout encodes host values into the std430 byte layout used by
// storage buffers in WGSL, GLSL and Slang.
//
// Host structs often disagree with device layout: a vec3<f32> occupies 12
// bytes but aligns to 16, and a struct aligns to its largest member. Types
// whose host and device layouts diverge describe their encoding with a
// [Writer] and decode with a [Reader].
//
//	func (p *Particle) WriteShader(w *layout.Writer) error {
//	    w.Vec3(p.Pos)
//	    w.Float32(p.Mass)
//	    w.Vec3(p.Vel)
//	    return w.End(16)
//	}
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned by a Reader that runs out of bytes.
var ErrShortBuffer = errors.New("layout: buffer too short")

// Alignment of std430 vector types in bytes.
const (
	AlignScalar = 4
	AlignVec2   = 8
	AlignVec3   = 16
	AlignVec4   = 16
)

// Writer appends little-endian std430 values to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity preallocated.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset discards all written bytes and keeps the allocation.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Align pads with zeros to a multiple of n.
func (w *Writer) Align(n int) {
	w.PadTo(RoundUp(len(w.buf), n))
}

// PadTo pads with zeros until Len() == n. It does nothing if Len() >= n.
func (w *Writer) PadTo(n int) {
	for len(w.buf) < n {
		w.buf = append(w.buf, 0)
	}
}

// End pads the trailing bytes of a struct to its alignment. It exists so
// encoders can end with "return w.End(align)".
func (w *Writer) End(align int) error {
	if align <= 0 || align&(align-1) != 0 {
		return fmt.Errorf("layout: invalid alignment %d", align)
	}
	w.Align(align)
	return nil
}

// Uint32 writes a u32.
func (w *Writer) Uint32(v uint32) {
	w.Align(AlignScalar)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// Int32 writes an i32.
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

// Float32 writes an f32.
func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

// Bool writes a bool as a u32, the host-shareable representation.
func (w *Writer) Bool(v bool) {
	if v {
		w.Uint32(1)
		return
	}
	w.Uint32(0)
}

// Vec2 writes a vec2<f32>.
func (w *Writer) Vec2(v [2]float32) {
	w.Align(AlignVec2)
	w.scalars(v[:])
}

// Vec3 writes a vec3<f32>: 12 bytes aligned to 16.
func (w *Writer) Vec3(v [3]float32) {
	w.Align(AlignVec3)
	w.scalars(v[:])
}

// Vec4 writes a vec4<f32>.
func (w *Writer) Vec4(v [4]float32) {
	w.Align(AlignVec4)
	w.scalars(v[:])
}

// UVec2 writes a vec2<u32>.
func (w *Writer) UVec2(v [2]uint32) {
	w.Align(AlignVec2)
	for _, x := range v {
		w.Uint32(x)
	}
}

// UVec4 writes a vec4<u32>.
func (w *Writer) UVec4(v [4]uint32) {
	w.Align(AlignVec4)
	for _, x := range v {
		w.Uint32(x)
	}
}

// Mat4 writes a column-major mat4x4<f32>.
func (w *Writer) Mat4(m [16]float32) {
	w.Align(AlignVec4)
	w.scalars(m[:])
}

func (w *Writer) scalars(v []float32) {
	for _, x := range v {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(x))
	}
}

// Reader decodes std430 values. The first error sticks: later reads
// return zero values and Err reports it.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

// Align skips to a multiple of n.
func (r *Reader) Align(n int) {
	r.Skip(RoundUp(r.off, n) - r.off)
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) {
	if r.err != nil {
		return
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf))
		return
	}
	r.off += n
}

// Uint32 reads a u32.
func (r *Reader) Uint32() uint32 {
	r.Align(AlignScalar)
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.err = fmt.Errorf("%w: need 4 bytes at offset %d, have %d", ErrShortBuffer, r.off, len(r.buf))
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// Int32 reads an i32.
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// Float32 reads an f32.
func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

// Bool reads a bool stored as a u32.
func (r *Reader) Bool() bool { return r.Uint32() != 0 }

// Vec2 reads a vec2<f32>.
func (r *Reader) Vec2() (v [2]float32) {
	r.Align(AlignVec2)
	r.scalars(v[:])
	return v
}

// Vec3 reads a vec3<f32>.
func (r *Reader) Vec3() (v [3]float32) {
	r.Align(AlignVec3)
	r.scalars(v[:])
	return v
}

// Vec4 reads a vec4<f32>.
func (r *Reader) Vec4() (v [4]float32) {
	r.Align(AlignVec4)
	r.scalars(v[:])
	return v
}

// UVec2 reads a vec2<u32>.
func (r *Reader) UVec2() (v [2]uint32) {
	r.Align(AlignVec2)
	for i := range v {
		v[i] = r.Uint32()
	}
	return v
}

// UVec4 reads a vec4<u32>.
func (r *Reader) UVec4() (v [4]uint32) {
	r.Align(AlignVec4)
	for i := range v {
		v[i] = r.Uint32()
	}
	return v
}

// Mat4 reads a column-major mat4x4<f32>.
func (r *Reader) Mat4() (m [16]float32) {
	r.Align(AlignVec4)
	r.scalars(m[:])
	return m
}

func (r *Reader) scalars(v []float32) {
	for i := range v {
		v[i] = r.Float32()
	}
}

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
