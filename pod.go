// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// plainCache maps reflect.Type to the result of checkPlain (nil or error).
var plainCache sync.Map

// checkPlain reports whether T can be copied to the device byte for byte:
// fixed-size numbers, arrays and structs of them, and not an encased type.
func checkPlain[T any]() error {
	t := reflect.TypeFor[T]()
	if v, ok := plainCache.Load(t); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}

	var err error
	if _, ok := any(new(T)).(ShaderType); ok {
		err = fmt.Errorf("%w: %s is an encased type; use the Encased buffer operations", ErrContract, t)
	} else if !isPlain(t) {
		err = fmt.Errorf("%w: %s is not a plain fixed-size type", ErrContract, t)
	}
	if err == nil {
		plainCache.Store(t, nil)
	} else {
		plainCache.Store(t, err)
	}
	return err
}

func isPlain(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return isPlain(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !isPlain(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// bytesOf reinterprets a slice of plain values as bytes without copying.
func bytesOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(s[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*size) //nolint:gosec // plain types only
}

func sizeOf[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}
