// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuhal/backend"
)

func newBackendsCmd(a *app) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if !open {
				for _, name := range backend.Available() {
					fmt.Fprintln(w, name)
				}
				return w.Flush()
			}
			fmt.Fprintln(w, "NAME\tSTATUS\tTARGET\tMAX GROUPS")
			for _, name := range backend.Available() {
				b, err := backend.Open(name)
				if err != nil {
					fmt.Fprintf(w, "%s\tunavailable: %v\t\t\n", name, err)
					continue
				}
				fmt.Fprintf(w, "%s\tok\t%s\t%d\n", name, b.Target(), b.Limits().MaxWorkgroupsPerDimension)
				if err := b.Close(); err != nil {
					return fmt.Errorf("close %s: %w", name, err)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "open each backend and report its target and limits")
	return cmd
}
