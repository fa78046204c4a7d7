// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package arch

// CPU are the privileged operations of a core.
type CPU interface {
	DisableInterrupts()
	// SwapGS exchanges the kernel and user GS base.
	SwapGS()
	// WriteFS sets the thread local storage base.
	WriteFS(base uint64)
	// ReadCR3 and WriteCR3 access the active page table root.
	ReadCR3() uint64
	WriteCR3(root uint64)
	// JumpToUser sets instruction and stack pointer and enables interrupts
	// in one transfer to user mode. It does not return.
	JumpToUser(entry, stack uint64)
}

// EnterUser transfers control to user code at entry with the given stack.
// It does not return.
func EnterUser(cpu CPU, entry, stack uint64) {
	// Nothing must interrupt between swapping GS and the jump.
	cpu.DisableInterrupts()
	cpu.SwapGS()
	cpu.JumpToUser(entry, stack)
}
