// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import (
	"sync"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/mm"
	"github.com/aibor/usertask/internal/task"
	"github.com/aibor/usertask/internal/ustack"
)

// UserEntry is the state a program starts with.
type UserEntry struct {
	Task  task.ID
	Core  uint32
	Entry uint64
	Stack uint64
	FS    uint64
	View  ustack.View
	// Err is set if the user stack could not be read.
	Err error
}

// CPU is a simulated core.
type CPU struct {
	machine *Machine
	id      uint32

	mu         sync.Mutex
	interrupts bool
	kernelGS   bool
	fs         uint64
	cr3        uint64
}

var _ arch.CPU = (*CPU)(nil)

// DisableInterrupts implements [arch.CPU].
func (c *CPU) DisableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interrupts = false
}

// SwapGS implements [arch.CPU].
func (c *CPU) SwapGS() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kernelGS = !c.kernelGS
}

// WriteFS implements [arch.CPU].
func (c *CPU) WriteFS(base uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fs = base
}

// ReadCR3 implements [arch.CPU].
func (c *CPU) ReadCR3() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cr3
}

// WriteCR3 implements [arch.CPU].
func (c *CPU) WriteCR3(root uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cr3 = root
}

// JumpToUser implements [arch.CPU]. It calls the machine's user entry hook
// and exits the current task with its result.
func (c *CPU) JumpToUser(entry, stack uint64) {
	c.mu.Lock()
	c.interrupts = true
	fs := c.fs
	c.mu.Unlock()

	core, err := c.machine.Registry.Core(c.id)
	if err != nil {
		panic(err)
	}

	state := UserEntry{
		Core:  c.id,
		Entry: entry,
		Stack: stack,
		FS:    fs,
	}

	if t := core.Current(); t != nil {
		state.Task = t.ID
		state.View, state.Err = ustack.Inspect(t.Space, stack)
	} else {
		state.Err = mm.ErrFault
	}

	c.machine.Scheduler.Exit(core, c.machine.onUserEntry(state))
}

// Interrupts returns whether interrupts are enabled.
func (c *CPU) Interrupts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interrupts
}
