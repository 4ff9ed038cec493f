// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuhal"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a built-in kernel and verify its result",
	}
	cmd.AddCommand(newRunAddCmd(a))
	return cmd
}

func newRunAddCmd(a *app) *cobra.Command {
	var n uint32
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add two vectors of n floats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			s, err := a.session(nil)
			if err != nil {
				return err
			}
			c, err := a.compiler(s)
			if err != nil {
				return err
			}
			var shaders addShaders
			if err := gpuhal.LoadShaders(ctx, b, c, &shaders); err != nil {
				return err
			}
			defer gpuhal.DestroyShaders(&shaders)

			xs := make([]float32, n)
			ys := make([]float32, n)
			for i := range xs {
				xs[i] = float32(i)
				ys[i] = float32(2 * i)
			}
			args, err := newAddArgs(b, xs, ys)
			if err != nil {
				return err
			}
			defer args.destroy()

			start := time.Now()
			enc, err := b.BeginEncoding()
			if err != nil {
				return err
			}
			pass, err := enc.BeginPass("add")
			if err != nil {
				return err
			}
			if err := shaders.Add.LaunchCapped(pass, gpuhal.Struct(args), n); err != nil {
				return err
			}
			if err := pass.End(); err != nil {
				return err
			}
			if err := b.Submit(enc); err != nil {
				return err
			}
			got, err := gpuhal.SlowReadVec(ctx, b, args.Out.All())
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			for i, v := range got {
				if want := xs[i] + ys[i]; math.Abs(float64(v-want)) > 1e-3 {
					return fmt.Errorf("out[%d] = %v, want %v", i, v, want)
				}
			}
			g := shaders.Add.CappedGrid(n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: added %d elements in %v (grid %v, block %v): ok\n",
				b.Name(), n, elapsed.Round(time.Microsecond), g, shaders.Add.BlockDim())
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&n, "n", "n", 10000, "number of elements")
	return cmd
}

func newAddArgs(b gpuhal.Backend, xs, ys []float32) (*addArgs, error) {
	args := &addArgs{}
	var err error
	if args.Params, err = gpuhal.InitBuffer(b, []uint32{uint32(len(xs)), 0, 0, 0}, gpuhal.UsageUniform); err != nil {
		return nil, err
	}
	if args.A, err = gpuhal.InitBuffer(b, xs, gpuhal.UsageStorage); err != nil {
		args.destroy()
		return nil, err
	}
	if args.B, err = gpuhal.InitBuffer(b, ys, gpuhal.UsageStorage); err != nil {
		args.destroy()
		return nil, err
	}
	if args.Out, err = gpuhal.UninitBuffer[float32](b, len(xs), gpuhal.UsageStorage); err != nil {
		args.destroy()
		return nil, err
	}
	return args, nil
}

func (a *addArgs) destroy() {
	a.Params.Destroy()
	a.A.Destroy()
	a.B.Destroy()
	a.Out.Destroy()
}
