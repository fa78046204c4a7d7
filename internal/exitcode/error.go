// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exitcode

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Error is an exit code that is considered an error.
type Error int

func (e Error) Error() string {
	if e < 0 {
		return fmt.Sprintf("non-zero exit code: %d (%s)", int(e), unix.Errno(-e))
	}

	return fmt.Sprintf("non-zero exit code: %d", int(e))
}

func (Error) Is(other error) bool {
	_, ok := other.(Error)
	return ok
}

// Code returns the exit code as basic int type.
func (e Error) Code() int {
	return int(e)
}

// FromErrno returns the exit code a task exits with on the given error
// number. It is the negative error number.
func FromErrno(errno unix.Errno) int {
	return -int(errno)
}

// From returns an exit code based on the given error and if the error was an
// [Error].
//
// If the error is nil, the exit code is 0. If the error is an [Error] the exit
// code is the return value of [Error.Code]. If the error wraps a
// [unix.Errno], the exit code is the negative error number. Otherwise the
// exit code is -1.
func From(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var exitErr Error
	if errors.As(err, &exitErr) {
		return exitErr.Code(), true
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return FromErrno(errno), false
	}

	return -1, false
}
