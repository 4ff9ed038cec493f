// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuhal/compiler"
)

func newCompileCmd(a *app) *cobra.Command {
	var (
		entry  string
		target string
		output string
		defs   []string
	)
	cmd := &cobra.Command{
		Use:   "compile <module>",
		Short: "Compile a shader module for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := compiler.ParseTarget(target)
			if err != nil {
				return err
			}
			macros, err := parseMacros(defs)
			if err != nil {
				return err
			}
			s, err := a.session(nil)
			if err != nil {
				return err
			}
			c, err := a.compiler(s)
			if err != nil {
				return err
			}
			prog, err := c.Compile(cmd.Context(), args[0], t, entry, macros...)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(prog.Code)
				return err
			}
			if err := os.WriteFile(output, prog.Code, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes of %s for %s\n", output, len(prog.Code), prog.Target, entry)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&entry, "entry", "e", "main", "entry point")
	f.StringVarP(&target, "target", "t", "wgsl", "target: wgsl, spirv, ptx or host")
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	f.StringArrayVarP(&defs, "define", "D", nil, "macro definition NAME=VALUE (repeatable)")
	return cmd
}
