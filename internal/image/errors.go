// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import "errors"

var (
	// ErrNotFound is returned if the archive has no member with the
	// requested name.
	ErrNotFound = errors.New("archive member not found")

	// ErrNotRegular is returned if the requested archive member is not a
	// regular file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrEmpty is returned for empty executables.
	ErrEmpty = errors.New("executable is empty")

	// ErrNotELFFile is returned if the file does not have an ELF magic number.
	ErrNotELFFile = errors.New("is not an ELF file")

	// ErrMachineNotSupported is returned if the machine type of an ELF file
	// is not supported.
	ErrMachineNotSupported = errors.New("machine type not supported")

	// ErrNotExecutable is returned if the ELF file is not a static
	// executable.
	ErrNotExecutable = errors.New("not an executable")
)
