// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a content-addressed cache of compiled programs.
//
// A [Cache] wraps a [compiler.Compiler] and is itself a Compiler. Programs
// are keyed by an xxhash of the module name, target, entry point, macros
// and the compiler's fingerprint of the module, which for WGSL is the fully
// preprocessed source. Editing an included file therefore changes the key even
// though the module name does not.
//
// Programs are kept in a sharded in-memory LRU and, when a directory is
// configured, as cbor files on disk so that they survive restarts. PTX
// programs are never cached: they are read verbatim from the search path.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/gpuhal"
	"github.com/gogpu/gpuhal/compiler"
	"github.com/gogpu/gpuhal/internal/metrics"
)

// Fingerprinter is implemented by compilers that can summarize everything
// a compilation of module depends on besides its name, target and entry.
type Fingerprinter interface {
	Fingerprint(module string, macros ...compiler.Macro) ([]byte, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithDir stores programs under dir in addition to memory.
func WithDir(dir string) Option {
	return func(c *Cache) {
		if dir != "" {
			c.disk = &disk{dir: dir}
		}
	}
}

// WithCapacity sets the number of programs kept in memory per shard.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.mem = newMemory(n)
	}
}

// DefaultDir returns the per-user directory for cached programs.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "gpuhal", "programs"), nil
}

// Stats reports cache activity since creation or the last ResetStats.
type Stats struct {
	Len       int
	Hits      uint64
	DiskHits  uint64
	Misses    uint64
	Bypassed  uint64
	Evictions uint64
	HitRate   float64
}

// Cache is a caching [compiler.Compiler]. It is safe for concurrent use;
// concurrent compilations of the same key run the inner compiler once.
//
// Returned programs are shared between callers and must not be modified.
type Cache struct {
	inner compiler.Compiler
	fp    Fingerprinter
	mem   *memory
	disk  *disk
	group singleflight.Group

	hits     atomic.Uint64
	diskHits atomic.Uint64
	misses   atomic.Uint64
	bypassed atomic.Uint64
}

var _ compiler.Compiler = (*Cache)(nil)

// New wraps inner. If inner does not implement [Fingerprinter] every
// compilation is passed through uncached.
func New(inner compiler.Compiler, opts ...Option) *Cache {
	c := &Cache{inner: inner}
	c.fp, _ = inner.(Fingerprinter)
	for _, opt := range opts {
		opt(c)
	}
	if c.mem == nil {
		c.mem = newMemory(DefaultCapacity)
	}
	if c.fp == nil {
		gpuhal.Logger().Warn("compiler cache disabled: compiler has no fingerprint",
			"compiler", fmt.Sprintf("%T", inner))
	}
	return c
}

// Compile implements compiler.Compiler.
func (c *Cache) Compile(ctx context.Context, module string, target compiler.Target, entry string, macros ...compiler.Macro) (*compiler.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target == compiler.TargetPTX || c.fp == nil {
		c.bypassed.Add(1)
		metrics.CompileCacheLookups.WithLabelValues("bypass").Inc()
		return c.inner.Compile(ctx, module, target, entry, macros...)
	}

	fp, err := c.fp.Fingerprint(module, macros...)
	if err != nil {
		return nil, err
	}
	key := Key(module, target, entry, macros, fp)
	if prog, ok := c.mem.get(key); ok {
		c.hits.Add(1)
		metrics.CompileCacheLookups.WithLabelValues("memory").Inc()
		return prog, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if prog, ok := c.mem.get(key); ok {
			c.hits.Add(1)
			metrics.CompileCacheLookups.WithLabelValues("memory").Inc()
			return prog, nil
		}
		if c.disk != nil {
			prog, ok, err := c.disk.load(key)
			if err != nil {
				gpuhal.Logger().Warn("compiler cache: unreadable entry", "module", module, "err", err)
			}
			if ok {
				c.diskHits.Add(1)
				metrics.CompileCacheLookups.WithLabelValues("disk").Inc()
				c.mem.add(key, prog)
				return prog, nil
			}
		}

		c.misses.Add(1)
		metrics.CompileCacheLookups.WithLabelValues("miss").Inc()
		prog, err := c.inner.Compile(ctx, module, target, entry, macros...)
		if err != nil {
			return nil, err
		}
		c.mem.add(key, prog)
		if c.disk != nil {
			if err := c.disk.store(key, prog); err != nil {
				gpuhal.Logger().Warn("compiler cache: store failed", "module", module, "err", err)
			}
		}
		gpuhal.Logger().Debug("compiled program cached",
			"module", module, "target", target, "entry", entry, "bytes", len(prog.Code))
		return prog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*compiler.Program), nil
}

// Key derives the cache key of a compilation. Every variable-length field
// is length-prefixed so that distinct inputs never serialize alike.
func Key(module string, target compiler.Target, entry string, macros []compiler.Macro, fingerprint []byte) uint64 {
	d := xxhash.New()
	var n [8]byte
	put := func(b []byte) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
		_, _ = d.Write(n[:])
		_, _ = d.Write(b)
	}
	binary.LittleEndian.PutUint64(n[:], formatVersion)
	_, _ = d.Write(n[:])
	put([]byte(module))
	put([]byte(target.String()))
	put([]byte(entry))
	binary.LittleEndian.PutUint64(n[:], uint64(len(macros)))
	_, _ = d.Write(n[:])
	for _, m := range macros {
		put([]byte(m.Name))
		put([]byte(m.Value))
	}
	put(fingerprint)
	return d.Sum64()
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	s := Stats{
		Len:       c.mem.len(),
		Hits:      c.hits.Load(),
		DiskHits:  c.diskHits.Load(),
		Misses:    c.misses.Load(),
		Bypassed:  c.bypassed.Load(),
		Evictions: c.mem.evictions.Load(),
	}
	if total := s.Hits + s.DiskHits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits+s.DiskHits) / float64(total)
	}
	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.diskHits.Store(0)
	c.misses.Store(0)
	c.bypassed.Store(0)
	c.mem.evictions.Store(0)
}

// Clear drops every program from memory and from the cache directory.
func (c *Cache) Clear() error {
	c.mem.purge()
	if c.disk == nil {
		return nil
	}
	return c.disk.clear()
}
