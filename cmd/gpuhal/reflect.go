// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuhal/compiler/wgsl"
)

func newReflectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reflect <file.wgsl>",
		Short: "Print the entry points and bindings of a WGSL source",
		Long: `Reflect parses a WGSL file without resolving includes or macros and
prints, for every compute entry point, its workgroup size and the
parameters a caller binds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			r, err := wgsl.Reflect(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, ep := range r.EntryPoints {
				fmt.Fprintf(w, "%s\tworkgroup_size(%d, %d, %d)\n",
					ep.Name, ep.WorkgroupSize[0], ep.WorkgroupSize[1], ep.WorkgroupSize[2])
				for _, p := range ep.Parameters {
					if p.IsResource() {
						fmt.Fprintf(w, "  %s\t@binding(%s)\t%s\t%s\n", p.Name, p.Binding, p.Kind, p.Type)
					} else {
						fmt.Fprintf(w, "  %s\t@builtin(%s)\t\t%s\n", p.Name, p.Semantic, p.Type)
					}
				}
			}
			return w.Flush()
		},
	}
}
