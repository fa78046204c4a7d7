// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// KernelStack is the kernel stack owned by a task.
type KernelStack struct {
	// Base is the kernel virtual address of the first byte of Mem.
	Base uint64
	Mem  []byte
}

// NewKernelStack creates a new kernel stack of the given size at base.
func NewKernelStack(base, size uint64) *KernelStack {
	return &KernelStack{
		Base: base,
		Mem:  make([]byte, size),
	}
}

// Top returns the address right after the last byte of the stack.
func (s *KernelStack) Top() uint64 {
	return s.Base + uint64(len(s.Mem))
}

// slice returns the stack memory for [addr, addr+size).
func (s *KernelStack) slice(addr, size uint64) ([]byte, error) {
	if addr < s.Base || addr+size > s.Top() || addr+size < addr {
		return nil, fmt.Errorf("%w: kernel stack %#x+%d", mm.ErrFault, addr, size)
	}

	off := addr - s.Base

	return s.Mem[off : off+size], nil
}

// PutUint64 stores a word at the given stack address.
func (s *KernelStack) PutUint64(addr, value uint64) error {
	mem, err := s.slice(addr, 8)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(mem, value)

	return nil
}

// Uint64 loads a word from the given stack address.
func (s *KernelStack) Uint64(addr uint64) (uint64, error) {
	mem, err := s.slice(addr, 8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(mem), nil
}

// ReadFrame decodes the frame stored at the given stack pointer.
func (s *KernelStack) ReadFrame(sp uint64) (Frame, error) {
	var frame Frame

	mem, err := s.slice(sp, FrameSize)
	if err != nil {
		return frame, err
	}

	if err := frame.DecodeFrom(mem); err != nil {
		return Frame{}, err
	}

	return frame, nil
}

// WriteFrame encodes the frame at the given stack pointer.
func (s *KernelStack) WriteFrame(sp uint64, frame *Frame) error {
	mem, err := s.slice(sp, FrameSize)
	if err != nil {
		return err
	}

	return frame.EncodeTo(mem)
}
