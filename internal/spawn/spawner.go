// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spawn

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aibor/usertask/internal/task"
)

// CorePicker selects the core for the next task.
type CorePicker interface {
	NextCore() uint32
}

// Spawner creates user tasks from spawn requests.
type Spawner struct {
	Creator task.Creator
	Cores   CorePicker
	// Entry is the entry function of new tasks. It gets the task's
	// request as argument.
	Entry task.EntryFunc
	// MaxExecutable limits the executable size, see [ReadRequest].
	MaxExecutable int
	Logger        *slog.Logger
}

func (s *Spawner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}

	return s.Logger
}

// Spawn reads a request from the connection and creates a task for it with
// the given priority on the next core. On failure, the connection is
// closed and no task exists.
func (s *Spawner) Spawn(ctx context.Context, conn io.ReadCloser, prio uint8) (task.ID, error) {
	core := s.Cores.NextCore()

	id, err := s.spawn(ctx, conn, prio, core)
	if err != nil {
		s.logger().ErrorContext(ctx, "Unable to load task",
			slog.Any("core", core),
			slog.Any("error", err))

		_ = conn.Close()

		return 0, err
	}

	return id, nil
}

func (s *Spawner) spawn(ctx context.Context, conn io.ReadCloser, prio uint8, core uint32) (task.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	req, err := ReadRequest(conn, conn, s.MaxExecutable)
	if err != nil {
		return 0, fmt.Errorf("read request: %w", err)
	}

	argc, exeLen := req.Argc, len(req.Executable)

	// The request belongs to the task once it is created.
	id, err := s.Creator.Create(s.Entry, req, prio, core)
	if err != nil {
		req.Release()
		return 0, fmt.Errorf("create task: %w", err)
	}

	s.logger().DebugContext(ctx, "Task spawned",
		slog.Any("id", id),
		slog.Any("core", core),
		slog.Int("argc", argc),
		slog.Int("executable", exeLen))

	return id, nil
}
