// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arch

import (
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// Symbols are the kernel text addresses a default frame refers to.
type Symbols struct {
	// Trampoline is where a new task starts executing.
	Trampoline uint64
	// LeaveKernelTask is the return address of the trampoline. It cleans
	// up the task after exit.
	LeaveKernelTask uint64
	// PerCoreSize is the size of one core's private data area. The GS
	// selector of a core is its ID multiplied by it.
	PerCoreSize uint64
}

// NewFrame creates the initial frame for a task resuming into the
// trampoline with entry and arg as its two arguments. sp is the stack
// pointer the trampoline starts with.
func NewFrame(sym Symbols, entry, arg, sp uint64, core uint32) Frame {
	return Frame{
		GS:      uint64(core) * sym.PerCoreSize,
		FS:      0,
		R15:     0,
		R14:     0,
		R13:     0,
		R12:     0,
		R11:     0,
		R10:     0,
		R9:      0,
		R8:      0,
		RDI:     arg,
		RSI:     entry,
		RBP:     0,
		RSP:     sp,
		RBX:     0,
		RDX:     0,
		RCX:     0,
		RAX:     0,
		IntNo:   IntNoMarker,
		Error:   ErrorMarker,
		RIP:     sym.Trampoline,
		CS:      KernelCodeSelector,
		RFlags:  InitialRFlags,
		UserRSP: sp,
		SS:      KernelDataSelector,
	}
}

// BuildDefaultFrame prepares the given fresh kernel stack so that restoring
// it like a preempted task enters the trampoline with entry and arg.
//
// The whole stack is filled with [StackFill]. Below the 16 byte aligned top
// the [StackMarker] and the return address [Symbols.LeaveKernelTask] are
// placed, followed by the frame. The returned address of the frame is the
// task's saved stack pointer.
func BuildDefaultFrame(stack *KernelStack, sym Symbols, entry, arg uint64, core uint32) (uint64, error) {
	if stack == nil || len(stack.Mem) < FrameSize+0x20 {
		return 0, fmt.Errorf("%w: no kernel stack", mm.ErrInvalidArgument)
	}

	for idx := range stack.Mem {
		stack.Mem[idx] = StackFill
	}

	top := (stack.Top() - 0x10) &^ 0xF

	if err := stack.PutUint64(top, StackMarker); err != nil {
		return 0, err
	}

	retAddr := top - 8
	if err := stack.PutUint64(retAddr, sym.LeaveKernelTask); err != nil {
		return 0, err
	}

	sp := retAddr - FrameSize
	frame := NewFrame(sym, entry, arg, retAddr, core)

	if err := stack.WriteFrame(sp, &frame); err != nil {
		return 0, err
	}

	return sp, nil
}
