// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import "errors"

var (
	// ErrUnknownTask is returned for task IDs the scheduler does not know.
	ErrUnknownTask = errors.New("unknown task")

	// ErrBadFrame is returned if a task's saved frame does not resume into
	// the trampoline.
	ErrBadFrame = errors.New("bad initial frame")
)
