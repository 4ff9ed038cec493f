// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gogpu/gpuhal"
)

// Backend names.
const (
	// BackendWebGPU is the command-buffer backend on gogpu/wgpu.
	BackendWebGPU = "webgpu"

	// BackendCUDA is the stream backend on the CUDA driver API.
	BackendCUDA = "cuda"

	// BackendHost is the stream backend running kernels on the CPU.
	BackendHost = "host"
)

// ErrBackendNotAvailable is returned when a requested backend is not
// registered or fails to open.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Factory opens a backend instance.
type Factory func() (gpuhal.Backend, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	// WebGPU > CUDA > Host (host is the always-available fallback).
	backendPriority = []string{BackendWebGPU, BackendCUDA, BackendHost}
)

// Register makes factory available under name, replacing any factory
// already registered there. Backend packages call it from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes name from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens the backend registered under name.
func Open(name string) (gpuhal.Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendNotAvailable, name, err)
	}
	return b, nil
}

// Default opens the best available backend based on priority, then any
// other registered backend. Failures to open are logged and skipped.
func Default() (gpuhal.Backend, error) {
	registryMu.RLock()
	order := make([]string, 0, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			order = append(order, name)
		}
	}
	var rest []string
	for name := range backends {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	registryMu.RUnlock()
	sort.Strings(rest)
	order = append(order, rest...)

	var errs []error
	for _, name := range order {
		b, err := Open(name)
		if err == nil {
			gpuhal.Logger().Info("backend: selected", "name", name)
			return b, nil
		}
		gpuhal.Logger().Warn("backend: unavailable", "name", name, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: none registered", ErrBackendNotAvailable)
	}
	return nil, errors.Join(errs...)
}

// MustDefault returns the default backend or panics.
func MustDefault() gpuhal.Backend {
	b, err := Default()
	if err != nil {
		panic(err)
	}
	return b
}
