// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import "github.com/gogpu/gpuhal/compiler"

// node is one program in a shard's recency list.
type node struct {
	key  uint64
	prog *compiler.Program
	prev *node
	next *node
}

// lruList orders the programs of one shard from most to least recently
// used. It is not safe for concurrent use; the owning shard locks it.
type lruList struct {
	head *node
	tail *node
	len  int
}

func (l *lruList) pushFront(n *node) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.len++
}

func (l *lruList) moveToFront(n *node) {
	if n == l.head {
		return
	}
	l.unlink(n)
	l.pushFront(n)
}

// removeOldest unlinks and returns the least recently used node, or nil.
func (l *lruList) removeOldest() *node {
	n := l.tail
	if n != nil {
		l.unlink(n)
	}
	return n
}

func (l *lruList) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
	l.len--
}
