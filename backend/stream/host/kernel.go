// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/gogpu/gpuhal/backend/stream"
)

// ThreadID identifies a thread's position within the launch, with the same
// indexing as CUDA's blockIdx, threadIdx, blockDim and gridDim.
type ThreadID struct {
	BlockIdx  stream.Dim3
	ThreadIdx stream.Dim3
	BlockDim  stream.Dim3
	GridDim   stream.Dim3
}

// Global returns the global x index.
func (t ThreadID) Global() uint32 {
	return t.GlobalX()
}

// GlobalX returns the global x index.
func (t ThreadID) GlobalX() uint32 {
	return t.BlockIdx.X*t.BlockDim.X + t.ThreadIdx.X
}

// GlobalY returns the global y index.
func (t ThreadID) GlobalY() uint32 {
	return t.BlockIdx.Y*t.BlockDim.Y + t.ThreadIdx.Y
}

// GlobalZ returns the global z index.
func (t ThreadID) GlobalZ() uint32 {
	return t.BlockIdx.Z*t.BlockDim.Z + t.ThreadIdx.Z
}

// GridThreads returns the number of threads launched along x.
func (t ThreadID) GridThreads() uint32 {
	return t.GridDim.X * t.BlockDim.X
}

// Kernel is a host kernel. It is called once per thread, concurrently
// across blocks and sequentially within a block. args holds the memory
// behind each positional kernel argument, in binding layout order.
type Kernel func(tid ThreadID, args [][]byte)

// Float32s views b as a []float32. len(b) must be a multiple of 4.
func Float32s(b []byte) []float32 {
	return view[float32](b)
}

// Uint32s views b as a []uint32.
func Uint32s(b []byte) []uint32 {
	return view[uint32](b)
}

// Int32s views b as a []int32.
func Int32s(b []byte) []int32 {
	return view[int32](b)
}

func view[T float32 | uint32 | int32](b []byte) []T {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

// Kernels maps module and entry point names to host kernels.
type Kernels struct {
	mu      sync.RWMutex
	modules map[string]map[string]Kernel
}

// NewKernels returns an empty kernel table.
func NewKernels() *Kernels {
	return &Kernels{modules: make(map[string]map[string]Kernel)}
}

// Register adds k as entry point entry of module, replacing any kernel
// already registered there.
func (ks *Kernels) Register(module, entry string, k Kernel) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	m := ks.modules[module]
	if m == nil {
		m = make(map[string]Kernel)
		ks.modules[module] = m
	}
	m[entry] = k
}

// Lookup returns the kernel registered as module.entry.
func (ks *Kernels) Lookup(module, entry string) (Kernel, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	m, ok := ks.modules[module]
	if !ok {
		return nil, fmt.Errorf("host: no kernels registered for module %q", module)
	}
	k, ok := m[entry]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", stream.ErrKernelNotFound, module, entry)
	}
	return k, nil
}

// Modules returns the names of modules with registered kernels, sorted.
func (ks *Kernels) Modules() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	names := make([]string, 0, len(ks.modules))
	for name := range ks.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultKernels = NewKernels()

// Register adds k to the process-wide kernel table used by drivers created
// without WithKernels.
func Register(module, entry string, k Kernel) {
	defaultKernels.Register(module, entry, k)
}

// DefaultKernels returns the process-wide kernel table.
func DefaultKernels() *Kernels { return defaultKernels }
