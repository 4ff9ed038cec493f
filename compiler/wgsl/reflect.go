// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/gpuhal/compiler"
)

// lower parses and type-checks preprocessed WGSL into naga IR.
func lower(src string) (*ir.Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", compiler.ErrSyntax, err)
	}
	m, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", compiler.ErrSyntax, err)
	}
	return m, nil
}

// computeEntry returns the compute entry point called name.
func computeEntry(m *ir.Module, name string) *ir.EntryPoint {
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		if ep.Stage == ir.StageCompute && ep.Name == name {
			return ep
		}
	}
	return nil
}

func reflectModule(m *ir.Module) (compiler.Reflection, error) {
	var r compiler.Reflection
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			continue
		}
		e, err := reflectEntry(m, ep)
		if err != nil {
			return compiler.Reflection{}, err
		}
		r.EntryPoints = append(r.EntryPoints, e)
	}
	return r, nil
}

// reflectEntry lists the builtin inputs of ep followed by the uniform and
// storage buffers it reaches, in declaration order.
func reflectEntry(m *ir.Module, ep *ir.EntryPoint) (compiler.EntryPoint, error) {
	ws := ep.Workgroup
	if ws[0] == 0 || ws[1] == 0 || ws[2] == 0 {
		return compiler.EntryPoint{}, fmt.Errorf("%w: entry %s: @workgroup_size %v has a zero dimension",
			compiler.ErrSyntax, ep.Name, ws)
	}
	out := compiler.EntryPoint{Name: ep.Name, WorkgroupSize: ws}
	for _, arg := range ep.Function.Arguments {
		out.Parameters = append(out.Parameters, compiler.Parameter{
			Name:     arg.Name,
			Type:     typeName(m, arg.Type),
			Semantic: semantic(arg.Binding),
		})
	}

	used := reachableGlobals(m, &ep.Function)
	for h, g := range m.GlobalVariables {
		if g.Binding == nil || !used[ir.GlobalVariableHandle(h)] {
			continue
		}
		kind := resourceKind(&g)
		if kind == compiler.ResourceNone {
			continue
		}
		out.Parameters = append(out.Parameters, compiler.Parameter{
			Name:    g.Name,
			Type:    typeName(m, g.Type),
			Binding: compiler.Binding{Group: g.Binding.Group, Index: g.Binding.Binding},
			Kind:    kind,
		})
	}
	return out, nil
}

// reachableGlobals returns the globals fn refers to, directly or through
// the functions it calls. Names are already resolved by lowering, so a
// local that shadows a global does not count as a use.
func reachableGlobals(m *ir.Module, fn *ir.Function) map[ir.GlobalVariableHandle]bool {
	used := make(map[ir.GlobalVariableHandle]bool)
	visited := make(map[ir.FunctionHandle]bool)

	var trace func(f *ir.Function)
	call := func(h ir.FunctionHandle) {
		if visited[h] || int(h) >= len(m.Functions) {
			return
		}
		visited[h] = true
		trace(&m.Functions[h])
	}
	trace = func(f *ir.Function) {
		for _, e := range f.Expressions {
			switch k := e.Kind.(type) {
			case ir.ExprGlobalVariable:
				used[k.Variable] = true
			case ir.ExprCallResult:
				call(k.Function)
			}
		}
		walkCalls(f.Body, call)
	}
	trace(fn)
	return used
}

func walkCalls(block ir.Block, visit func(ir.FunctionHandle)) {
	for _, st := range block {
		switch s := st.Kind.(type) {
		case ir.StmtCall:
			visit(s.Function)
		case ir.StmtBlock:
			walkCalls(s.Block, visit)
		case ir.StmtIf:
			walkCalls(s.Accept, visit)
			walkCalls(s.Reject, visit)
		case ir.StmtLoop:
			walkCalls(s.Body, visit)
			walkCalls(s.Continuing, visit)
		case ir.StmtSwitch:
			for _, c := range s.Cases {
				walkCalls(c.Body, visit)
			}
		}
	}
}

func resourceKind(g *ir.GlobalVariable) compiler.ResourceKind {
	switch g.Space {
	case ir.SpaceUniform:
		return compiler.ResourceUniform
	case ir.SpaceStorage:
		if g.Access == ir.StorageRead {
			return compiler.ResourceReadOnlyStorage
		}
		return compiler.ResourceStorage
	}
	return compiler.ResourceNone
}

// link specializes m to ep: other entry points are dropped and naga
// compacts away the globals and functions nothing left reaches.
func link(m *ir.Module, ep *ir.EntryPoint) *ir.Module {
	m.EntryPoints = []ir.EntryPoint{*ep}
	ir.CompactUnused(m)
	return m
}

// emitSPIRV validates m and generates a SPIR-V 1.3 binary.
func emitSPIRV(m *ir.Module) ([]byte, error) {
	verrs, err := naga.Validate(m)
	if err != nil {
		return nil, fmt.Errorf("%w: validate: %w", compiler.ErrSyntax, err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: validate: %w", compiler.ErrSyntax, verrs[0])
	}
	return naga.GenerateSPIRV(m, spirv.Options{Version: spirv.Version1_3})
}

var builtinNames = map[ir.BuiltinValue]string{
	ir.BuiltinPosition:             "position",
	ir.BuiltinVertexIndex:          "vertex_index",
	ir.BuiltinInstanceIndex:        "instance_index",
	ir.BuiltinFrontFacing:          "front_facing",
	ir.BuiltinFragDepth:            "frag_depth",
	ir.BuiltinSampleIndex:          "sample_index",
	ir.BuiltinSampleMask:           "sample_mask",
	ir.BuiltinLocalInvocationID:    "local_invocation_id",
	ir.BuiltinLocalInvocationIndex: "local_invocation_index",
	ir.BuiltinGlobalInvocationID:   "global_invocation_id",
	ir.BuiltinWorkGroupID:          "workgroup_id",
	ir.BuiltinNumWorkGroups:        "num_workgroups",
	ir.BuiltinNumSubgroups:         "num_subgroups",
	ir.BuiltinSubgroupID:           "subgroup_id",
	ir.BuiltinSubgroupSize:         "subgroup_size",
	ir.BuiltinSubgroupInvocationID: "subgroup_invocation_id",
}

// semantic names the grid-supplied input behind an entry point argument.
// Struct arguments carry their builtins on the members.
func semantic(b *ir.Binding) string {
	if b == nil {
		return "input"
	}
	switch b := (*b).(type) {
	case ir.BuiltinBinding:
		if name, ok := builtinNames[b.Builtin]; ok {
			return name
		}
		return fmt.Sprintf("builtin(%d)", b.Builtin)
	case ir.LocationBinding:
		return fmt.Sprintf("location(%d)", b.Location)
	}
	return "input"
}

// typeName renders a type the way WGSL spells it.
func typeName(m *ir.Module, h ir.TypeHandle) string {
	if int(h) >= len(m.Types) {
		return "?"
	}
	t := m.Types[h]
	switch in := t.Inner.(type) {
	case ir.ScalarType:
		return scalarName(in)
	case ir.VectorType:
		return fmt.Sprintf("vec%d<%s>", in.Size, scalarName(in.Scalar))
	case ir.MatrixType:
		return fmt.Sprintf("mat%dx%d<%s>", in.Columns, in.Rows, scalarName(in.Scalar))
	case ir.ArrayType:
		if in.Size.Constant != nil {
			return fmt.Sprintf("array<%s, %d>", typeName(m, in.Base), *in.Size.Constant)
		}
		return "array<" + typeName(m, in.Base) + ">"
	case ir.AtomicType:
		return "atomic<" + scalarName(in.Scalar) + ">"
	}
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%T", t.Inner)
}

func scalarName(s ir.ScalarType) string {
	switch s.Kind {
	case ir.ScalarSint:
		return fmt.Sprintf("i%d", int(s.Width)*8)
	case ir.ScalarUint:
		return fmt.Sprintf("u%d", int(s.Width)*8)
	case ir.ScalarFloat:
		return fmt.Sprintf("f%d", int(s.Width)*8)
	case ir.ScalarBool:
		return "bool"
	}
	return "abstract"
}
