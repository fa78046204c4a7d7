// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidArgument is returned for malformed input. It wraps
	// [unix.EINVAL].
	ErrInvalidArgument = fmt.Errorf("invalid argument: %w", unix.EINVAL)

	// ErrOutOfMemory is returned if pages can not be allocated or mapped.
	// It wraps [unix.ENOMEM].
	ErrOutOfMemory = fmt.Errorf("out of memory: %w", unix.ENOMEM)

	// ErrFault is returned on access to an address that is not mapped. It
	// wraps [unix.EFAULT].
	ErrFault = fmt.Errorf("bad address: %w", unix.EFAULT)
)

// Errno returns the error number wrapped by the given error.
//
// If the error does not wrap a [unix.Errno], [unix.EINVAL] is returned. For
// nil, 0 is returned.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return unix.EINVAL
}
