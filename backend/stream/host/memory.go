// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpuhal/backend/stream"
)

// Device pointers carry the allocation id in the high bits and the byte
// offset in the low bits, so pointer arithmetic on a DevicePtr stays inside
// the allocation it started from.
const (
	offsetBits = 40
	maxAlloc   = 1 << offsetBits
	offsetMask = maxAlloc - 1
)

// memory is the host driver's allocation table.
type memory struct {
	mu     sync.RWMutex
	allocs map[uint64][]byte
	nextID uint64
	bytes  uint64
	peak   uint64
}

func newMemory() *memory {
	return &memory{allocs: make(map[uint64][]byte), nextID: 1}
}

func (m *memory) alloc(size uint64) (stream.DevicePtr, error) {
	if size == 0 || size > maxAlloc {
		return 0, fmt.Errorf("host: invalid allocation size %d", size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.allocs[id] = make([]byte, size)
	m.bytes += size
	m.peak = max(m.peak, m.bytes)
	return stream.DevicePtr(id << offsetBits), nil
}

func (m *memory) free(p stream.DevicePtr) error {
	id := uint64(p) >> offsetBits
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.allocs[id]
	if !ok || uint64(p)&offsetMask != 0 {
		return fmt.Errorf("host: free of invalid pointer %#x", uint64(p))
	}
	delete(m.allocs, id)
	m.bytes -= uint64(len(mem))
	return nil
}

// resolve returns the n bytes at p.
func (m *memory) resolve(p stream.DevicePtr, n uint64) ([]byte, error) {
	id, off := uint64(p)>>offsetBits, uint64(p)&offsetMask
	m.mu.RLock()
	mem, ok := m.allocs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("host: invalid pointer %#x", uint64(p))
	}
	if off > uint64(len(mem)) || n > uint64(len(mem))-off {
		return nil, fmt.Errorf("host: access [%d, %d) outside allocation of %d bytes", off, off+n, len(mem))
	}
	return mem[off : off+n : off+n], nil
}

// stats returns the bytes currently allocated and the peak.
func (m *memory) stats() (allocated, peak uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes, m.peak
}
