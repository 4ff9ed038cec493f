// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpuhal/compiler"
)

var compiledFunctionType = reflect.TypeFor[*CompiledFunction]()

// LoadShaders compiles and loads every tagged *CompiledFunction field of
// the struct dst points to:
//
//	type Kernels struct {
//	    Add    *gpuhal.CompiledFunction `shader:"kernels/math"`
//	    Reduce *gpuhal.CompiledFunction `shader:"kernels/math:reduce_sum"`
//	}
//
// The tag names the module and, after a colon, the entry point. Without
// an entry point the field name in snake_case is used. Untagged fields are
// left alone. Fields are compiled concurrently; on error every function
// already loaded is destroyed and dst is left unchanged.
func LoadShaders(ctx context.Context, b Backend, c compiler.Compiler, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: LoadShaders needs a pointer to a struct, got %T", ErrContract, dst)
	}
	sv := rv.Elem()
	st := sv.Type()

	type job struct {
		field  int
		module string
		entry  string
	}
	var jobs []job
	for i := range st.NumField() {
		f := st.Field(i)
		tag, ok := f.Tag.Lookup("shader")
		if !ok {
			continue
		}
		if f.Type != compiledFunctionType || !f.IsExported() {
			return fmt.Errorf("%w: field %s.%s tagged shader must be an exported *CompiledFunction", ErrContract, st, f.Name)
		}
		module, entry, _ := strings.Cut(tag, ":")
		if module == "" {
			return fmt.Errorf("%w: field %s.%s has an empty shader module", ErrContract, st, f.Name)
		}
		if entry == "" {
			entry = SnakeCase(f.Name)
		}
		jobs = append(jobs, job{field: i, module: module, entry: entry})
	}

	loaded := make([]*CompiledFunction, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			fn, err := CompileFunction(gctx, b, c, j.module, j.entry)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", st.Name(), st.Field(j.field).Name, err)
			}
			loaded[i] = fn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, fn := range loaded {
			if fn != nil {
				fn.Destroy()
			}
		}
		return err
	}

	for i, j := range jobs {
		sv.Field(j.field).Set(reflect.ValueOf(loaded[i]))
	}
	Logger().Info("gpuhal: shaders loaded", "set", st.String(), "functions", len(jobs), "backend", b.Name())
	return nil
}

// DestroyShaders destroys every non-nil *CompiledFunction field of the
// struct dst points to and clears it.
func DestroyShaders(dst any) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sv := rv.Elem()
	for i := range sv.NumField() {
		f := sv.Field(i)
		if f.Type() != compiledFunctionType || !f.CanSet() || f.IsNil() {
			continue
		}
		f.Interface().(*CompiledFunction).Destroy()
		f.Set(reflect.Zero(compiledFunctionType))
	}
}
