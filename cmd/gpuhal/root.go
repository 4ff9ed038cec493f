// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/backend"
	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/compiler/cache"
	"github.com/gogpu/gpuhal/compiler/wgsl"

	// Backends register themselves on import.
	_ "github.com/gogpu/gpuhal/backend/stream/cuda"
	_ "github.com/gogpu/gpuhal/backend/stream/host"
	_ "github.com/gogpu/gpuhal/backend/webgpu"
)

//go:embed shaders/*.wgsl
var embedded embed.FS

// Config keys, also settable as GPUHAL_<KEY> with dashes as underscores.
const (
	keyBackend    = "backend"
	keySearchPath = "search-path"
	keyCacheDir   = "cache-dir"
	keyNoCache    = "no-cache"
	keyVerbose    = "verbose"
	keyTrace      = "trace"
)

// app carries the per-invocation state shared by the subcommands.
type app struct {
	v        *viper.Viper
	cfgFile  string
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "gpuhal",
		Short:         "Inspect, compile and run gpuhal compute kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.gpuhal/config.yaml)")
	flags.String(keyBackend, "", "backend to open (default: best available)")
	flags.StringSlice(keySearchPath, nil, "directories searched for shader modules")
	flags.String(keyCacheDir, "", "compiled program cache directory (default: user cache dir)")
	flags.Bool(keyNoCache, false, "disable the on-disk program cache")
	flags.BoolP(keyVerbose, "v", false, "log debug output to stderr")
	flags.Bool(keyTrace, false, "print OpenTelemetry spans to stderr")
	for _, k := range []string{keyBackend, keySearchPath, keyCacheDir, keyNoCache, keyVerbose, keyTrace} {
		_ = a.v.BindPFlag(k, flags.Lookup(k))
	}

	root.AddCommand(
		newBackendsCmd(a),
		newReflectCmd(),
		newCompileCmd(a),
		newRunCmd(a),
	)
	return root
}

// init reads configuration and sets up logging and tracing.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("GPUHAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.gpuhal")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	if v.GetBool(keyVerbose) {
		gpuhal.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
		if f := v.ConfigFileUsed(); f != "" {
			gpuhal.Logger().Debug("using config file", "path", f)
		}
	}
	if v.GetBool(keyTrace) {
		shutdown, err := initTracer(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		a.shutdown = shutdown
	}
	return nil
}

// session returns a compiler session searching the configured paths
// first, then the shaders built into the binary.
func (a *app) session(macros []compiler.Macro) (*compiler.Session, error) {
	var opts []compiler.SessionOption
	for _, dir := range a.v.GetStringSlice(keySearchPath) {
		opts = append(opts, compiler.WithSearchPath(dir))
	}
	sub, err := fs.Sub(embedded, "shaders")
	if err != nil {
		return nil, err
	}
	opts = append(opts, compiler.WithSource("embedded", sub))
	for _, m := range macros {
		opts = append(opts, compiler.WithMacro(m.Name, m.Value))
	}
	return compiler.NewSession(opts...), nil
}

// compiler returns the WGSL compiler for s, wrapped in the program cache
// unless it is disabled.
func (a *app) compiler(s *compiler.Session) (compiler.Compiler, error) {
	c := wgsl.NewCompiler(s)
	if a.v.GetBool(keyNoCache) {
		return c, nil
	}
	dir := a.v.GetString(keyCacheDir)
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			gpuhal.Logger().Warn("no user cache directory; caching in memory only", "err", err)
		}
	}
	return cache.New(c, cache.WithDir(dir)), nil
}

// openBackend opens the configured backend, or the best available one.
func (a *app) openBackend() (gpuhal.Backend, error) {
	if name := a.v.GetString(keyBackend); name != "" {
		return backend.Open(name)
	}
	return backend.Default()
}

// parseMacros parses NAME=VALUE definitions. A bare NAME defines an empty
// value.
func parseMacros(defs []string) ([]compiler.Macro, error) {
	macros := make([]compiler.Macro, 0, len(defs))
	for _, d := range defs {
		name, value, _ := strings.Cut(d, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid macro definition %q", d)
		}
		macros = append(macros, compiler.Macro{Name: name, Value: value})
	}
	return macros, nil
}
