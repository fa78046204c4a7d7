// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"sync"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/mm"
)

// ID identifies a task.
type ID uint32

// Flags are status flags of a task.
type Flags uint32

// Task status flags.
const (
	FlagFPUUsed Flags = 1 << iota
	FlagFPUInit
)

// Task is a schedulable unit of execution.
type Task struct {
	ID       ID
	Core     uint32
	Priority uint8

	Stack *arch.KernelStack
	// LastStackPointer is the saved context cursor on Stack.
	LastStackPointer uint64

	// Space is the address space the task runs in.
	Space   mm.AddressSpace
	Regions *mm.Regions
	Heap    *mm.Region

	// Pages holds the physical pages allocated for the task. They are
	// released when the task exits.
	Pages *mm.Owned

	// TLS is the thread local storage template copied on task entry.
	TLS []byte

	mu       sync.Mutex
	flags    Flags
	exitCode int
	exitOnce sync.Once
	done     chan struct{}
}

func newTask(id ID, core uint32, prio uint8) *Task {
	return &Task{
		ID:       id,
		Core:     core,
		Priority: prio,
		Regions:  new(mm.Regions),
		done:     make(chan struct{}),
	}
}

// Flags returns the current status flags.
func (t *Task) Flags() Flags {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.flags
}

// SetFlags sets the given flags.
func (t *Task) SetFlags(flags Flags) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flags |= flags
}

// ClearFlags clears the given flags.
func (t *Task) ClearFlags(flags Flags) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flags &^= flags
}

// Done returns a channel that is closed once the task exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// ExitCode returns the exit code. Only valid after [Task.Done] is closed.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.exitCode
}

// exit records the exit code and runs teardown, if not nil, before the
// task is reported done. Only the first call has an effect.
func (t *Task) exit(code int, teardown func()) bool {
	exited := false

	t.exitOnce.Do(func() {
		t.mu.Lock()
		t.exitCode = code
		t.mu.Unlock()

		if teardown != nil {
			teardown()
		}

		close(t.done)

		exited = true
	})

	return exited
}
