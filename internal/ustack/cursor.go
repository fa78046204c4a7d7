// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ustack

import (
	"encoding/binary"
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// WordSize is the size of a pointer or integer word.
const WordSize = 8

// Cursor writes into a fixed memory region that is mapped at a virtual base
// address. It moves downwards, like a stack grows.
type Cursor struct {
	base uint64
	mem  []byte
	off  uint64
}

// NewCursor creates a cursor positioned at the end of mem.
func NewCursor(base uint64, mem []byte) *Cursor {
	return &Cursor{
		base: base,
		mem:  mem,
		off:  uint64(len(mem)),
	}
}

// Offset returns the current position relative to the region start.
func (c *Cursor) Offset() uint64 {
	return c.off
}

// Addr returns the virtual address of the current position.
func (c *Cursor) Addr() uint64 {
	return c.base + c.off
}

// AddrOf returns the virtual address of the given offset.
func (c *Cursor) AddrOf(off uint64) uint64 {
	return c.base + off
}

// Seek moves the cursor to the given offset.
func (c *Cursor) Seek(off uint64) error {
	if off > uint64(len(c.mem)) {
		return fmt.Errorf("%w: seek %#x beyond %#x", mm.ErrInvalidArgument, off, len(c.mem))
	}

	c.off = off

	return nil
}

// Reserve moves the cursor down by n bytes.
func (c *Cursor) Reserve(n uint64) error {
	if n > c.off {
		return fmt.Errorf("%w: stack overflow reserving %d bytes", mm.ErrOutOfMemory, n)
	}

	c.off -= n

	return nil
}

// AlignDown moves the cursor down until its address is a multiple of n,
// which must be a power of two.
func (c *Cursor) AlignDown(n uint64) error {
	aligned := c.Addr() &^ (n - 1)

	return c.Reserve(c.Addr() - aligned)
}

// Put writes data at the given offset without moving the cursor.
func (c *Cursor) Put(off uint64, data []byte) error {
	if off > uint64(len(c.mem)) || uint64(len(data)) > uint64(len(c.mem))-off {
		return fmt.Errorf("%w: write %d bytes at %#x", mm.ErrInvalidArgument, len(data), off)
	}

	copy(c.mem[off:], data)

	return nil
}

// PutWord writes a word at the given offset without moving the cursor.
func (c *Cursor) PutWord(off, value uint64) error {
	return c.Put(off, binary.LittleEndian.AppendUint64(nil, value))
}

// Push moves the cursor down by the length of data and writes it there.
func (c *Cursor) Push(data []byte) error {
	if err := c.Reserve(uint64(len(data))); err != nil {
		return err
	}

	return c.Put(c.off, data)
}

// PushWord pushes a single word.
func (c *Cursor) PushWord(value uint64) error {
	return c.Push(binary.LittleEndian.AppendUint64(nil, value))
}

// PushPointer pushes a virtual address.
func (c *Cursor) PushPointer(addr uint64) error {
	return c.PushWord(addr)
}

// Bytes returns the region from the current position to its end.
func (c *Cursor) Bytes() []byte {
	return c.mem[c.off:]
}
