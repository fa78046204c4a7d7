// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spawn_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/spawn"
	"github.com/aibor/usertask/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, tasks *fakeTasks) net.Addr {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &spawn.Server{
		Listener: listener,
		Spawner:  newSpawner(tasks),
		Waiter:   tasks,
		MaxConns: 2,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	return listener.Addr()
}

func TestServer_Serve(t *testing.T) {
	tasks := &fakeTasks{codes: map[task.ID]int{1: 3, 2: -22}}
	addr := startServer(t, tasks)

	for _, expected := range []int{3, -22, 0} {
		conn, err := net.Dial(addr.Network(), addr.String())
		require.NoError(t, err)

		require.NoError(t, spawn.WriteRequest(conn, []string{"prog", "arg"}, []byte("exe")))

		code, err := exitcode.Scan(conn, nil)
		require.NoError(t, err)
		assert.Equal(t, expected, code)

		require.NoError(t, conn.Close())
	}

	assert.Len(t, tasks.Created(), 3)
}

func TestServer_Serve_InvalidRequest(t *testing.T) {
	tasks := new(fakeTasks)
	addr := startServer(t, tasks)

	conn, err := net.Dial(addr.Network(), addr.String())
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.Write(wire(0).Bytes())
	require.NoError(t, err)

	// Closed without exit code.
	_, err = exitcode.Scan(conn, nil)
	require.ErrorIs(t, err, exitcode.ErrNotFound)

	assert.Empty(t, tasks.Created())
}

func TestServer_Serve_StopsPending(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tasks := new(fakeTasks)
	server := &spawn.Server{
		Listener: listener,
		Spawner:  newSpawner(tasks),
		Waiter:   tasks,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- server.Serve(ctx) }()

	// A client that never sends anything must not block shutdown.
	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)

	defer conn.Close()

	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, tasks.Created())
}
