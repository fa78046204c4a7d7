// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"fmt"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/mm"
)

// CreateDefaultFrame builds the initial frame on the task's kernel stack so
// the task resumes into the trampoline on the given core, and stores the
// frame as the task's saved stack pointer.
func CreateDefaultFrame(t *Task, sym arch.Symbols, entry, arg uint64, core uint32) error {
	if t == nil {
		return fmt.Errorf("%w: no task", mm.ErrInvalidArgument)
	}

	sp, err := arch.BuildDefaultFrame(t.Stack, sym, entry, arg, core)
	if err != nil {
		return fmt.Errorf("task %d: %w", t.ID, err)
	}

	t.LastStackPointer = sp

	return nil
}
