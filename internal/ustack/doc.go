// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ustack lays out the initial user mode stack of a program: argument
// count, argument and environment pointer arrays and their strings, as the
// x86-64 System V process startup expects them.
package ustack
