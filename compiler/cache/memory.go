// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuhal/compiler"
)

const (
	// shardCount must be a power of two.
	shardCount = 16
	shardMask  = shardCount - 1

	// DefaultCapacity is the default number of programs kept in memory per
	// shard.
	DefaultCapacity = 16
)

// memory is a sharded LRU of programs keyed by content hash. Keys are
// already uniformly distributed, so the low bits select the shard.
type memory struct {
	shards    [shardCount]shard
	capacity  int
	evictions atomic.Uint64
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]*node
	lru     lruList
}

func newMemory(capacity int) *memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &memory{capacity: capacity}
	for i := range m.shards {
		m.shards[i].entries = make(map[uint64]*node)
	}
	return m
}

func (m *memory) get(key uint64) (*compiler.Program, bool) {
	s := &m.shards[key&shardMask]
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.lru.moveToFront(n)
	return n.prog, true
}

func (m *memory) add(key uint64, prog *compiler.Program) {
	s := &m.shards[key&shardMask]
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.entries[key]; ok {
		n.prog = prog
		s.lru.moveToFront(n)
		return
	}
	for s.lru.len >= m.capacity {
		old := s.lru.removeOldest()
		delete(s.entries, old.key)
		m.evictions.Add(1)
	}
	n := &node{key: key, prog: prog}
	s.lru.pushFront(n)
	s.entries[key] = n
}

func (m *memory) len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

func (m *memory) purge() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.entries = make(map[uint64]*node)
		s.lru = lruList{}
		s.mu.Unlock()
	}
}
