// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine_test

import (
	"context"
	"debug/elf"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/aibor/usertask/internal/elftest"
	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/loader"
	"github.com/aibor/usertask/internal/machine"
	"github.com/aibor/usertask/internal/spawn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type entries struct {
	mu   sync.Mutex
	seen []machine.UserEntry
	code int
}

func (e *entries) record(state machine.UserEntry) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seen = append(e.seen, state)

	return e.code
}

func (e *entries) all() []machine.UserEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]machine.UserEntry(nil), e.seen...)
}

func newMachine(t *testing.T, cores int, code int) (*machine.Machine, *entries) {
	t.Helper()

	recorder := &entries{code: code}

	m, err := machine.New(machine.Config{
		Cores:       cores,
		MemorySize:  4 << 20,
		NX:          true,
		OnUserEntry: recorder.record,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return m, recorder
}

func TestMachine_Spawn(t *testing.T) {
	m, recorder := newMachine(t, 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	free := m.Frames.Free()

	for _, args := range [][]string{{"/bin/a", "x"}, {"/bin/b", "y", "zz"}} {
		client, server := net.Pipe()

		go func() {
			_ = spawn.WriteRequest(client, args, elftest.Minimal().Bytes())
		}()

		id, err := m.Spawner.Spawn(ctx, server, 0)
		require.NoError(t, err)

		require.NoError(t, m.Scheduler.Wait(ctx, id))

		_ = client.Close()
		_ = server.Close()
	}

	seen := recorder.all()
	require.Len(t, seen, 2)

	assert.Equal(t, []string{"/bin/a", "x"}, seen[0].View.Argv)
	assert.Equal(t, []string{"/bin/b", "y", "zz"}, seen[1].View.Argv)

	for idx, state := range seen {
		require.NoError(t, state.Err)
		assert.Equal(t, uint32(idx), state.Core, "round robin")
		assert.Equal(t, uint64(elftest.DefaultEntry), state.Entry)
		assert.Zero(t, state.Stack%16)
		assert.Zero(t, state.FS)
	}

	assert.Equal(t, free, m.Frames.Free(), "task pages released")

	for _, cpu := range m.CPUs {
		assert.True(t, cpu.Interrupts(), "interrupts enabled by jump")
	}
}

func TestMachine_Spawn_ReclaimsPages(t *testing.T) {
	// A 4 MiB machine holds about 15 loaded tasks at once.
	const spawns = 40

	m, recorder := newMachine(t, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	free := m.Frames.Free()
	exe := elftest.Minimal().Bytes()

	for idx := range spawns {
		client, server := net.Pipe()

		go func() {
			_ = spawn.WriteRequest(client, []string{"prog"}, exe)
		}()

		id, err := m.Spawner.Spawn(ctx, server, 0)
		require.NoError(t, err, "spawn %d", idx)
		require.NoError(t, m.Scheduler.Wait(ctx, id), "task %d", idx)

		_ = client.Close()
		_ = server.Close()

		require.Equal(t, free, m.Frames.Free(), "free pages after task %d", idx)
	}

	assert.Len(t, recorder.all(), spawns)
}

func TestMachine_Serve(t *testing.T) {
	tests := []struct {
		name     string
		exe      []byte
		code     int
		expected int
	}{
		{
			name:     "exit code",
			exe:      elftest.Minimal().Bytes(),
			code:     7,
			expected: 7,
		},
		{
			name:     "invalid executable",
			exe:      []byte("#!/bin/sh\n"),
			expected: -22,
		},
		{
			name: "missing stack",
			exe: elftest.Executable(
				elftest.Load(elftest.DefaultEntry, elf.PF_R|elf.PF_X, []byte{0xf4}, 0),
				elftest.Note(loader.ABIMarker),
			).Bytes(),
			expected: -12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine(t, 1, tt.code)

			listener, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)

			go func() { done <- m.Serve(ctx, listener, 1) }()

			conn, err := net.Dial("tcp", listener.Addr().String())
			require.NoError(t, err)

			require.NoError(t, spawn.WriteRequest(conn, []string{"prog"}, tt.exe))

			code, err := exitcode.Scan(conn, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, code)

			_ = conn.Close()

			cancel()
			require.NoError(t, <-done)
		})
	}
}
