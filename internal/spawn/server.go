// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spawn

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/task"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConns is the default number of concurrently handled
// connections.
const DefaultMaxConns = 16

// Waiter waits for a task to exit.
type Waiter interface {
	Wait(ctx context.Context, id task.ID) error
}

// Server spawns one task per accepted connection and reports the exit code
// of the task back on the connection.
type Server struct {
	Listener net.Listener
	Spawner  *Spawner
	Waiter   Waiter
	Priority uint8
	// MaxConns limits the number of connections handled at once. Further
	// connections are not accepted until a handler is done.
	MaxConns int
	Logger   *slog.Logger
}

// Serve accepts connections until the context is done or accepting fails.
// It waits for all handlers before it returns. The listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxConns := s.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}

	var group errgroup.Group

	group.SetLimit(maxConns)

	stop := context.AfterFunc(ctx, func() {
		_ = s.Listener.Close()
	})
	defer stop()

	var err error

	for {
		var conn net.Conn

		conn, err = s.Listener.Accept()
		if err != nil {
			break
		}

		logger.Debug("Connection accepted", slog.String("remote", conn.RemoteAddr().String()))

		group.Go(func() error {
			s.handle(ctx, logger, conn)
			return nil
		})
	}

	_ = s.Listener.Close()
	_ = group.Wait()

	if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err //nolint:wrapcheck
}

func (s *Server) handle(ctx context.Context, logger *slog.Logger, conn net.Conn) {
	// Unblock reads and writes once the server stops.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	id, err := s.Spawner.Spawn(ctx, conn, s.Priority)
	if err != nil {
		return
	}

	defer conn.Close()

	err = s.Waiter.Wait(ctx, id)
	if errors.Is(err, context.Canceled) {
		return
	}

	code, _ := exitcode.From(err)

	if _, err := exitcode.Fprint(conn, code); err != nil {
		logger.Warn("Failed to report exit code",
			slog.Any("id", id),
			slog.Any("error", err))
	}
}
