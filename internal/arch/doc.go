// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package arch contains the x86-64 specific parts of task setup: the saved
// register frame a new task is resumed from and the transition from kernel
// to user mode.
//
// Privileged instructions are not executed here. They are behind the [CPU]
// interface, so the layout logic can be tested on any host.
package arch
