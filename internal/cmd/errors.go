// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"flag"
	"fmt"
)

var (
	// ErrHelp is returned when help is requested.
	ErrHelp = flag.ErrHelp

	// ErrReadBuildInfo is returned if build info could not be read.
	ErrReadBuildInfo = errors.New("failed to read build info")

	// ErrValueOutOfRange is returned if a numeric flag value is outside of
	// its bounds.
	ErrValueOutOfRange = errors.New("value is outside of range")
)

// ParseArgsError wraps errors that occur during argument parsing.
type ParseArgsError struct {
	err error
	msg string
}

func (e *ParseArgsError) Error() string {
	if e.err == nil {
		return e.msg
	}

	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *ParseArgsError) Is(other error) bool {
	_, ok := other.(*ParseArgsError)
	return ok
}

func (e *ParseArgsError) Unwrap() error {
	return e.err
}
