// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"fmt"
	"log/slog"

	"github.com/aibor/usertask/internal/mm"
)

// trampoline is the first code a dispatched task runs. It sets up the
// thread local storage base and calls the entry function with its argument.
func (s *Scheduler) trampoline(core *Core, t *Task, entryAddr, argAddr uint64) int {
	entry, exists := s.entries.take(entryAddr)
	arg, _ := s.args.take(argAddr)

	if !exists {
		s.cfg.Logger.Error("No entry function",
			slog.Any("id", t.ID),
			slog.String("entry", fmt.Sprintf("%#x", entryAddr)))

		return -int(mm.Errno(mm.ErrInvalidArgument))
	}

	if len(t.TLS) == 0 {
		core.CPU.WriteFS(0)
	} else {
		base, err := s.newTLS(t)
		if err != nil {
			s.cfg.Logger.Error("Failed to set up TLS",
				slog.Any("id", t.ID),
				slog.Any("error", err))

			return -int(mm.Errno(err))
		}

		core.CPU.WriteFS(base)

		s.cfg.Logger.Debug("Task set fs",
			slog.Any("id", t.ID),
			slog.String("fs", fmt.Sprintf("%#x", base)))
	}

	return entry(core, arg)
}

// newTLS copies the task's template into a fresh block owned by the task
// and returns its address.
func (s *Scheduler) newTLS(t *Task) (uint64, error) {
	if t.Pages == nil || s.cfg.Kernel == nil {
		return 0, fmt.Errorf("%w: no TLS allocator", mm.ErrOutOfMemory)
	}

	template := t.TLS
	size := uint64(len(template))

	addr, err := t.Pages.Request(mm.PageCount(size))
	if err != nil {
		return 0, fmt.Errorf("allocate TLS: %w", err)
	}

	mem, err := s.cfg.Kernel.Bytes(addr, size)
	if err != nil {
		return 0, fmt.Errorf("access TLS: %w", err)
	}

	copy(mem, template)

	return addr, nil
}
