// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package stream

// Option configures a Backend.
type Option func(*config)

type config struct {
	name          string
	emulateIndir  bool
	minBufferSize uint64
}

func defaultConfig() config {
	return config{
		emulateIndir:  true,
		minBufferSize: 4,
	}
}

// WithName sets the name the backend reports. It defaults to the
// driver's name.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithoutIndirectEmulation makes indirect launches fail with
// gpuhal.ErrUnsupported instead of reading the grid back to the host.
func WithoutIndirectEmulation() Option {
	return func(c *config) {
		c.emulateIndir = false
	}
}

// WithMinBufferSize sets the smallest allocation size.
func WithMinBufferSize(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.minBufferSize = n
		}
	}
}
