// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package exitcode provides task exit codes as errors and the line format
// the exit code is reported with to spawn clients.
package exitcode
