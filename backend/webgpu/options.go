// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import "time"

// Option configures a Backend.
type Option func(*config)

// config holds backend construction options.
type config struct {
	labelPrefix  string
	forceCopySrc bool
	fenceTimeout time.Duration
	pollInterval time.Duration
	hacks        []Hack
}

func defaultConfig() config {
	return config{
		labelPrefix:  "gpuhal",
		fenceTimeout: 5 * time.Second,
		pollInterval: 10 * time.Millisecond,
	}
}

// WithLabelPrefix sets the prefix of every object label the backend passes
// to the device. Labels show up in validation messages and GPU debuggers.
func WithLabelPrefix(prefix string) Option {
	return func(c *config) {
		c.labelPrefix = prefix
	}
}

// WithForceCopySrc adds CopySrc to the usage of every buffer, so that any
// buffer can be read with SlowReadBuffer.
func WithForceCopySrc() Option {
	return func(c *config) {
		c.forceCopySrc = true
	}
}

// WithFenceTimeout bounds how long a single submission may run before
// Synchronize reports a device error. Zero or negative values are ignored.
func WithFenceTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.fenceTimeout = d
		}
	}
}

// WithHacks appends source rewrites applied after the built-in ones.
func WithHacks(hacks ...Hack) Option {
	return func(c *config) {
		c.hacks = append(c.hacks, hacks...)
	}
}

func (c *config) label(parts ...string) string {
	l := c.labelPrefix
	for _, p := range parts {
		if p == "" {
			continue
		}
		if l != "" {
			l += ":"
		}
		l += p
	}
	return l
}
