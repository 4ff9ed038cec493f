// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Arg is anything that can contribute to a dispatch.
//
// WriteArg is called once per parameter of a compiled function's layout.
// It binds whatever it holds for name at binding, or returns an
// *ArgNotFoundError when it has nothing for that name. A missing name is
// never skipped silently.
//
// Buffers and slices bind themselves under any name. Bundles (Args,
// Struct) look the name up and delegate to the matching member.
type Arg interface {
	WriteArg(binding Binding, name string, d Dispatch) error
}

// NoArgs is the empty bundle, for kernels without resource parameters.
type NoArgs struct{}

// WriteArg always reports name as missing.
func (NoArgs) WriteArg(_ Binding, name string, _ Dispatch) error {
	return NewArgNotFound(name)
}

// Args is a bundle keyed by parameter name.
type Args map[string]Arg

// WriteArg delegates to the member named name.
func (a Args) WriteArg(binding Binding, name string, d Dispatch) error {
	v, ok := a[name]
	if !ok || v == nil {
		return NewArgNotFound(name)
	}
	return v.WriteArg(binding, name, d)
}

// Optional wraps an argument that may be absent. A zero Optional behaves
// like a missing argument.
type Optional struct {
	Value Arg
}

// Some returns an Optional holding a.
func Some(a Arg) Optional { return Optional{Value: a} }

// WriteArg delegates to the held value, if any.
func (o Optional) WriteArg(binding Binding, name string, d Dispatch) error {
	if isNilArg(o.Value) {
		return NewArgNotFound(name)
	}
	return o.Value.WriteArg(binding, name, d)
}

// Struct returns a bundle over the exported fields of the struct v points
// to (or v itself). Each field must implement Arg. A field is matched by
// its `arg:"name"` tag, or by its name converted to snake_case; fields
// tagged `arg:"-"` are ignored. Nil fields are reported as missing.
//
// The field index is built once per struct type.
func Struct(v any) Arg {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return NoArgs{}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return invalidArgs{err: fmt.Errorf("%w: Struct of %T", ErrContract, v)}
	}
	idx, err := structIndex(rv.Type())
	if err != nil {
		return invalidArgs{err: err}
	}
	return structArgs{v: rv, index: idx}
}

type structArgs struct {
	v     reflect.Value
	index map[string]int
}

func (s structArgs) WriteArg(binding Binding, name string, d Dispatch) error {
	i, ok := s.index[name]
	if !ok {
		return NewArgNotFound(name)
	}
	f := s.v.Field(i)
	if (f.Kind() == reflect.Pointer || f.Kind() == reflect.Interface) && f.IsNil() {
		return NewArgNotFound(name)
	}
	a, ok := f.Interface().(Arg)
	if !ok {
		// Value-receiver fields reached through an addressable struct.
		if f.CanAddr() {
			if pa, ok := f.Addr().Interface().(Arg); ok {
				return pa.WriteArg(binding, name, d)
			}
		}
		return fmt.Errorf("%w: field %s (%s) does not implement Arg", ErrContract, s.v.Type().Field(i).Name, f.Type())
	}
	return a.WriteArg(binding, name, d)
}

type invalidArgs struct{ err error }

func (a invalidArgs) WriteArg(Binding, string, Dispatch) error { return a.err }

var structIndexCache sync.Map // reflect.Type -> map[string]int

func structIndex(t reflect.Type) (map[string]int, error) {
	if v, ok := structIndexCache.Load(t); ok {
		return v.(map[string]int), nil
	}
	idx := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("arg")
		if name == "-" {
			continue
		}
		if name == "" {
			name = SnakeCase(f.Name)
		}
		if prev, dup := idx[name]; dup {
			return nil, fmt.Errorf("%w: %s: fields %s and %s both bind %q",
				ErrContract, t, t.Field(prev).Name, f.Name, name)
		}
		idx[name] = i
	}
	structIndexCache.Store(t, idx)
	return idx, nil
}

// SnakeCase converts a Go identifier to snake_case: "InputBuf" becomes
// "input_buf" and "HTTPHeader" becomes "http_header".
func SnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNilArg(a Arg) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	return false
}
