// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package compiler defines the contract between gpuhal and the shader
// compilers that turn kernel source into backend code.
//
// A compiler returns a [Program]: target-specific code plus the reflection
// metadata (thread-group size, parameter names, binding locators) that
// gpuhal uses to bind arguments and compute dispatch grids. gpuhal consumes
// programs and never inspects source text itself.
//
// The wgsl sub-package provides a compiler for WGSL sources and the cache
// sub-package a content-addressed on-disk cache that wraps any [Compiler].
package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Compiler errors.
var (
	// ErrModuleNotFound is returned when no search path contains the module.
	ErrModuleNotFound = errors.New("compiler: module not found")

	// ErrEntryNotFound is returned when the module has no such entry point.
	ErrEntryNotFound = errors.New("compiler: entry point not found")

	// ErrUnsupportedTarget is returned when code cannot be emitted for a target.
	ErrUnsupportedTarget = errors.New("compiler: unsupported target")

	// ErrSyntax is returned when the source cannot be parsed.
	ErrSyntax = errors.New("compiler: syntax error")
)

// Target identifies the kind of code a compiler emits.
type Target int

const (
	// TargetWGSL emits preprocessed WGSL text.
	TargetWGSL Target = iota

	// TargetSPIRV emits a SPIR-V binary.
	TargetSPIRV

	// TargetPTX emits NVIDIA PTX assembly.
	TargetPTX

	// TargetHost emits a descriptor naming kernels registered with the
	// host (CPU) stream driver.
	TargetHost
)

// String returns the lowercase target name.
func (t Target) String() string {
	switch t {
	case TargetWGSL:
		return "wgsl"
	case TargetSPIRV:
		return "spirv"
	case TargetPTX:
		return "ptx"
	case TargetHost:
		return "host"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// ParseTarget parses a target name as returned by [Target.String].
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wgsl":
		return TargetWGSL, nil
	case "spirv", "spir-v", "spv":
		return TargetSPIRV, nil
	case "ptx", "cuda":
		return TargetPTX, nil
	case "host", "cpu":
		return TargetHost, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedTarget, s)
}

// Binding locates a resource in a compiled program's layout: the binding
// group (WGSL @group, HLSL space) and the slot within it. Locators are
// taken verbatim from reflection.
type Binding struct {
	Group uint32
	Index uint32
}

// String returns "group:index".
func (b Binding) String() string {
	return fmt.Sprintf("%d:%d", b.Group, b.Index)
}

// ResourceKind describes how a bound buffer is accessed.
type ResourceKind int

const (
	// ResourceNone marks a parameter that is not a bound resource.
	ResourceNone ResourceKind = iota

	// ResourceUniform is a uniform buffer.
	ResourceUniform

	// ResourceReadOnlyStorage is a storage buffer the kernel only reads.
	ResourceReadOnlyStorage

	// ResourceStorage is a read-write storage buffer.
	ResourceStorage
)

// String returns the resource kind name.
func (k ResourceKind) String() string {
	switch k {
	case ResourceNone:
		return "none"
	case ResourceUniform:
		return "uniform"
	case ResourceReadOnlyStorage:
		return "storage-read"
	case ResourceStorage:
		return "storage"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// Parameter is one input of an entry point.
//
// Parameters carrying a Semantic (thread or group ids) are supplied by the
// execution grid. All others are resources the caller must bind.
type Parameter struct {
	Name     string
	Type     string
	Semantic string
	Binding  Binding
	Kind     ResourceKind
}

// IsResource reports whether the caller must supply the parameter.
func (p Parameter) IsResource() bool {
	return p.Semantic == ""
}

// EntryPoint describes a compute kernel.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
	Parameters    []Parameter
}

// Resources returns the parameters the caller must bind, in order.
func (e *EntryPoint) Resources() []Parameter {
	res := make([]Parameter, 0, len(e.Parameters))
	for _, p := range e.Parameters {
		if p.IsResource() {
			res = append(res, p)
		}
	}
	return res
}

// Reflection is the metadata a compiler extracts from a program.
type Reflection struct {
	EntryPoints []EntryPoint
}

// Entry returns the entry point with the given name.
func (r *Reflection) Entry(name string) (*EntryPoint, bool) {
	for i := range r.EntryPoints {
		if r.EntryPoints[i].Name == name {
			return &r.EntryPoints[i], true
		}
	}
	return nil, false
}

// Program is the output of a compilation: target code plus reflection.
type Program struct {
	Module     string
	Target     Target
	Code       []byte
	Reflection Reflection
}

// Macro is a preprocessor definition applied while linking.
type Macro struct {
	Name  string
	Value string
}

// Compiler turns a module into a program for a target.
//
// Implementations select the entry point first, then link the module with
// its includes and macros, and only then emit target code.
type Compiler interface {
	Compile(ctx context.Context, module string, target Target, entry string, macros ...Macro) (*Program, error)
}
