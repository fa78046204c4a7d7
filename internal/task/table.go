// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import "sync"

// table maps values to the machine words that stand in for them in
// register frames.
type table[T any] struct {
	mu     sync.Mutex
	base   uint64
	stride uint64
	next   uint64
	values map[uint64]T
}

func newTable[T any](base, stride uint64) *table[T] {
	return &table[T]{
		base:   base,
		stride: stride,
		values: make(map[uint64]T),
	}
}

func (t *table[T]) add(value T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := t.base + t.next*t.stride
	t.next++
	t.values[addr] = value

	return addr
}

func (t *table[T]) get(addr uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, exists := t.values[addr]

	return value, exists
}

// take returns and removes the value.
func (t *table[T]) take(addr uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, exists := t.values[addr]
	delete(t.values, addr)

	return value, exists
}
