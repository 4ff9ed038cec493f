// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler drops every record. Enabled is false at all levels, so
// LogValuer attributes such as Grid are never resolved.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var (
	silent = slog.New(nopHandler{})

	// current is nil until SetLogger installs a logger.
	current atomic.Pointer[slog.Logger]
)

// SetLogger installs the logger used by gpuhal, the backends and the
// compiler cache; nil restores the silent default. Levels:
//
//   - Debug: functions loaded, dispatches recorded, modules and devices opened.
//   - Info: backend selection and shader sets.
//   - Warn: recovered failures (unreadable cache entries, failed frees).
//
// For example:
//
//	gpuhal.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	current.Store(l)
}

// Logger returns the installed logger, or a silent one.
func Logger() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return silent
}
