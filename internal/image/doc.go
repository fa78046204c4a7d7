// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package image reads the executables sent to spawn servers, either from a
// plain file or as member of a cpio archive.
package image
