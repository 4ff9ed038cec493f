// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/gogpu/gpuhal/compiler"
)

var (
	reInclude = regexp.MustCompile(`^\s*#include\s+"([^"]+)"\s*$`)
	reDefine  = regexp.MustCompile(`^\s*#define\s+(\w+)(?:\s+(.*?))?\s*$`)
)

// Preprocess resolves #include directives of a module against the
// session's search list and expands macros. Each file is included at most
// once. The result is plain WGSL ready for naga.
//
// Macros come from #define lines in the sources, then the session's global
// macros, then macros; later definitions of a name win. Macro expansion
// replaces whole identifiers only.
func Preprocess(s *compiler.Session, name, src string, macros ...compiler.Macro) (string, error) {
	p := &preprocessor{session: s, seen: map[string]bool{name: true}}
	var out strings.Builder
	if err := p.expand(name, src, &out); err != nil {
		return "", err
	}

	defs := p.defines
	if s != nil {
		defs = append(defs, s.Macros()...)
	}
	defs = append(defs, macros...)
	return expandMacros(out.String(), defs), nil
}

type preprocessor struct {
	session *compiler.Session
	seen    map[string]bool
	defines []compiler.Macro
}

func (p *preprocessor) expand(name, src string, out *strings.Builder) error {
	for _, line := range strings.Split(src, "\n") {
		if sm := reDefine.FindStringSubmatch(line); sm != nil {
			p.defines = append(p.defines, compiler.Macro{Name: sm[1], Value: sm[2]})
			out.WriteByte('\n')
			continue
		}
		sm := reInclude.FindStringSubmatch(line)
		if sm == nil {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		incName, incSrc, err := p.resolve(name, sm[1])
		if err != nil {
			return fmt.Errorf("%s: include %q: %w", name, sm[1], err)
		}
		if p.seen[incName] {
			out.WriteByte('\n')
			continue
		}
		p.seen[incName] = true
		if err := p.expand(incName, incSrc, out); err != nil {
			return err
		}
	}
	return nil
}

// resolve looks an include up relative to the including file first, then
// from the root of the search list.
func (p *preprocessor) resolve(from, inc string) (string, string, error) {
	if p.session == nil {
		return "", "", fmt.Errorf("%w: no search paths", compiler.ErrModuleNotFound)
	}
	candidates := []string{path.Join(path.Dir(from), inc), path.Clean(strings.TrimPrefix(inc, "/"))}
	var firstErr error
	for _, c := range candidates {
		data, err := p.session.ReadFile(c)
		if err == nil {
			return c, string(data), nil
		}
		if !errors.Is(err, compiler.ErrModuleNotFound) {
			return "", "", err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", "", firstErr
}

func expandMacros(src string, defs []compiler.Macro) string {
	if len(defs) == 0 {
		return src
	}
	values := make(map[string]string, len(defs))
	for _, d := range defs {
		values[d.Name] = d.Value
	}
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, regexp.QuoteMeta(n))
	}
	// Longest first so a name that prefixes another does not win.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	re := regexp.MustCompile(`\b(?:` + strings.Join(names, "|") + `)\b`)
	return re.ReplaceAllStringFunc(src, func(id string) string {
		return values[id]
	})
}
