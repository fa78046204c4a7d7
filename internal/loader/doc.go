// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package loader loads static ELF executables into the address space of the
// current task and starts them in user mode.
//
// A [Request] carries the executable and its arguments from the spawn
// connection to the task. [Loader.Entry] is the task entry function: it
// validates the image, maps its segments, builds the user stack, maps the
// kernel info pages and jumps to the program's entry point. If anything
// fails, the task exits with the negative error number.
package loader
