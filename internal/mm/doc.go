// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mm provides the memory management contracts used while setting up
// user tasks: physical page allocation, page mapping into an address space
// and registration of memory regions.
//
// Besides the interfaces, it provides simple implementations backed by host
// memory: [Physical], [Frames], [Space] and [Regions]. They are used by the
// simulated machine and in tests.
package mm
