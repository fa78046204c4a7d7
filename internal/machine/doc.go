// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package machine assembles a simulated machine from the kernel components:
// physical memory with a page allocator, per-core CPUs, the scheduler, the
// loader and the spawn server.
//
// User mode is not executed. When a task jumps to user mode, the simulated
// CPU hands what the program would see to a hook and exits the task with
// the code the hook returns.
package machine
