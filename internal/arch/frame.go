// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// Frame is the register state saved on a task's kernel stack.
//
// The field order is the order the task switch restore path pops the
// registers. The last five fields are the frame the iretq instruction
// consumes.
type Frame struct {
	GS      uint64
	FS      uint64
	R15     uint64
	R14     uint64
	R13     uint64
	R12     uint64
	R11     uint64
	R10     uint64
	R9      uint64
	R8      uint64
	RDI     uint64
	RSI     uint64
	RBP     uint64
	RSP     uint64
	RBX     uint64
	RDX     uint64
	RCX     uint64
	RAX     uint64
	IntNo   uint64
	Error   uint64
	RIP     uint64
	CS      uint64
	RFlags  uint64
	UserRSP uint64
	SS      uint64
}

// FrameSize is the encoded size of a [Frame].
const FrameSize = 25 * 8

// Constants of the initial frame.
const (
	// StackFill is the byte a fresh kernel stack is filled with.
	StackFill = 0xCD
	// StackMarker is written right below the top of a fresh kernel stack.
	StackMarker = 0xDEADBEEF
	// IntNoMarker and ErrorMarker fill the interrupt number and error code
	// slots of a frame that was not created by an interrupt.
	IntNoMarker = 0xB16B00B5
	ErrorMarker = 0xC03DB4B3

	KernelCodeSelector = 0x08
	KernelDataSelector = 0x10

	// InitialRFlags has the interrupt flag and IOPL 1 set.
	InitialRFlags = 0x1202
)

// EncodeTo writes the frame into the given buffer in restore order.
func (f *Frame) EncodeTo(buf []byte) error {
	if _, err := binary.Encode(buf, binary.LittleEndian, f); err != nil {
		return fmt.Errorf("%w: encode frame: %w", mm.ErrInvalidArgument, err)
	}

	return nil
}

// DecodeFrom reads the frame from the given buffer.
func (f *Frame) DecodeFrom(buf []byte) error {
	if _, err := binary.Decode(buf, binary.LittleEndian, f); err != nil {
		return fmt.Errorf("%w: decode frame: %w", mm.ErrInvalidArgument, err)
	}

	return nil
}
