// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"fmt"
	"regexp"
)

// Hack is a textual rewrite applied to WGSL source before it reaches the
// shader compiler. Every match of Pattern is replaced by Replace, which may
// refer to submatches as in [regexp.Regexp.ReplaceAllString].
type Hack struct {
	Pattern *regexp.Regexp
	Replace string
}

// NewHack compiles pattern into a Hack.
func NewHack(pattern, replace string) (Hack, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Hack{}, fmt.Errorf("webgpu: hack %q: %w", pattern, err)
	}
	return Hack{Pattern: re, Replace: replace}, nil
}

// MustHack is like NewHack but panics if pattern does not compile.
func MustHack(pattern, replace string) Hack {
	h, err := NewHack(pattern, replace)
	if err != nil {
		panic(err)
	}
	return h
}

// BuiltinHacks are applied to every module before any caller hacks. The
// device is opened without the shader-f16 feature, so half precision is
// widened to f32.
var BuiltinHacks = []Hack{
	MustHack(`(?m)^[ \t]*enable[ \t]+f16[ \t]*;[ \t]*\r?\n?`, ""),
	MustHack(`\bf16\b`, "f32"),
}

// ApplyHacks rewrites src with each hack in order.
func ApplyHacks(src string, hacks []Hack) string {
	for _, h := range hacks {
		if h.Pattern == nil {
			continue
		}
		src = h.Pattern.ReplaceAllString(src, h.Replace)
	}
	return src
}
