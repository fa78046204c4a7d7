// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package task provides tasks, the per-core context they run in and a
// minimal scheduler that creates tasks with a resumable initial frame,
// dispatches them through the entry trampoline and collects their exit
// codes.
package task
