// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/aibor/usertask/internal/elftest"
	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/loader"
	"github.com/aibor/usertask/internal/mm"
	"github.com/aibor/usertask/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// userCPU ends the task on the jump to user mode.
type userCPU struct {
	mu     sync.Mutex
	calls  []string
	entry  uint64
	stack  uint64
	exiter task.Exiter
	core   *task.Core
}

func (c *userCPU) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)
}

func (c *userCPU) DisableInterrupts() { c.record("cli") }
func (c *userCPU) SwapGS()            { c.record("swapgs") }
func (c *userCPU) WriteFS(uint64)     {}
func (c *userCPU) ReadCR3() uint64    { return 0 }
func (c *userCPU) WriteCR3(uint64)    {}

func (c *userCPU) JumpToUser(entry, stack uint64) {
	c.mu.Lock()
	c.calls = append(c.calls, "jump")
	c.entry = entry
	c.stack = stack
	c.mu.Unlock()

	c.exiter.Exit(c.core, 0)
}

func runEntry(t *testing.T, arg any) (*userCPU, error) {
	t.Helper()

	phys, err := mm.NewPhysical(0, physPages*mm.PageSize)
	require.NoError(t, err)

	frames := mm.NewFrames(phys)
	cpu := new(userCPU)
	registry := task.NewRegistry(cpu)

	sched := task.NewScheduler(registry, task.Config{
		NewSpace: func() mm.AddressSpace { return mm.NewSpace(phys) },
		Pages:    frames,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	cpu.exiter = sched
	cpu.core, err = registry.Core(0)
	require.NoError(t, err)

	ld := loader.New(frames, sched, loader.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	free := frames.Free()

	id, err := sched.Create(ld.Entry, arg, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	err = sched.Wait(context.Background(), id)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, free, frames.Free(), "task pages released")

	return cpu, err
}

func TestLoader_Entry(t *testing.T) {
	exe := elftest.Minimal().Bytes()

	cpu, err := runEntry(t, newRequest(t, exe, "hello"))
	require.NoError(t, err)

	assert.Equal(t, []string{"cli", "swapgs", "jump"}, cpu.calls)
	assert.Equal(t, uint64(elftest.DefaultEntry), cpu.entry)
	assert.Zero(t, cpu.stack%16)
}

func TestLoader_Entry_Errors(t *testing.T) {
	tests := []struct {
		name     string
		arg      func(*testing.T) any
		expected int
	}{
		{
			name:     "invalid executable",
			arg:      func(t *testing.T) any { return newRequest(t, []byte("not an elf"), "x") },
			expected: -22,
		},
		{
			name:     "not a request",
			arg:      func(*testing.T) any { return "foo" },
			expected: -22,
		},
		{
			name:     "nil request",
			arg:      func(*testing.T) any { return (*loader.Request)(nil) },
			expected: -22,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpu, err := runEntry(t, tt.arg(t))
			require.ErrorIs(t, err, exitcode.Error(0))

			code, _ := exitcode.From(err)
			assert.Equal(t, tt.expected, code)
			assert.Empty(t, cpu.calls, "no user mode entry")
		})
	}
}
