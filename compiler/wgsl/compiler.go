// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgsl implements a compiler.Compiler for WGSL sources.
//
// Modules are looked up as "<module>.wgsl" in the session's search list.
// Sources may use #include "file" and #define NAME value lines; both are
// expanded by [Preprocess] before the source reaches naga. Reflection
// (workgroup size, builtin parameters, and the @group/@binding resources
// each entry point reaches) is read from the lowered naga IR.
//
// Emission per target:
//   - TargetWGSL: the preprocessed source.
//   - TargetSPIRV: SPIR-V produced by naga from the IR linked to the entry.
//   - TargetPTX: a precompiled "<module>.ptx" found next to the source.
//   - TargetHost: a host descriptor for kernels registered in Go.
package wgsl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gpuhal/compiler"
)

// Compiler compiles WGSL modules found through a session.
type Compiler struct {
	session *compiler.Session
}

var _ compiler.Compiler = (*Compiler)(nil)

// NewCompiler returns a compiler reading sources from s.
func NewCompiler(s *compiler.Session) *Compiler {
	if s == nil {
		s = compiler.NewSession()
	}
	return &Compiler{session: s}
}

// Session returns the compiler's session.
func (c *Compiler) Session() *compiler.Session {
	return c.session
}

// Compile compiles module for target.
//
// Entry points declared in included files are selectable.
func (c *Compiler) Compile(ctx context.Context, module string, target compiler.Target, entry string, macros ...compiler.Macro) (*compiler.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	module = strings.TrimSuffix(module, ".wgsl")
	file := module + ".wgsl"
	src, err := c.session.ReadFile(file)
	if err != nil {
		return nil, err
	}
	text, err := Preprocess(c.session, file, string(src), macros...)
	if err != nil {
		return nil, err
	}
	mod, err := lower(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	// Entry point selection.
	ep := computeEntry(mod, entry)
	if ep == nil {
		return nil, fmt.Errorf("%w: %s in %s", compiler.ErrEntryNotFound, entry, file)
	}
	refl, err := reflectEntry(mod, ep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	prog := &compiler.Program{
		Module:     module,
		Target:     target,
		Reflection: compiler.Reflection{EntryPoints: []compiler.EntryPoint{refl}},
	}

	// Code emission.
	switch target {
	case compiler.TargetWGSL:
		prog.Code = []byte(text)
	case compiler.TargetSPIRV:
		code, err := emitSPIRV(link(mod, ep))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		prog.Code = code
	case compiler.TargetPTX:
		ptx, err := c.session.ReadFile(module + ".ptx")
		if errors.Is(err, compiler.ErrModuleNotFound) {
			return nil, fmt.Errorf("%w: no precompiled %s.ptx for %s", compiler.ErrUnsupportedTarget, module, file)
		}
		if err != nil {
			return nil, err
		}
		prog.Code = ptx
	case compiler.TargetHost:
		prog.Code = compiler.HostCode(module)
	default:
		return nil, fmt.Errorf("%w: %s", compiler.ErrUnsupportedTarget, target)
	}
	return prog, nil
}

// Fingerprint returns the preprocessed source of module, which determines
// the output of Compile for every target except TargetPTX.
func (c *Compiler) Fingerprint(module string, macros ...compiler.Macro) ([]byte, error) {
	module = strings.TrimSuffix(module, ".wgsl")
	file := module + ".wgsl"
	src, err := c.session.ReadFile(file)
	if err != nil {
		return nil, err
	}
	text, err := Preprocess(c.session, file, string(src), macros...)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// Reflect returns reflection for every compute entry point of a WGSL
// source. Includes and macros are not resolved.
func Reflect(src string) (*compiler.Reflection, error) {
	mod, err := lower(src)
	if err != nil {
		return nil, err
	}
	r, err := reflectModule(mod)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
