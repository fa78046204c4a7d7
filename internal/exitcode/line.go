// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exitcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Identifier is the identifier string for communicating an exit code over
// a spawn connection.
const Identifier = "USERTASK_EXIT_CODE"

// ErrNotFound is returned if no exit code line was read.
var ErrNotFound = errors.New("exit code not found")

const format = Identifier + ": %d"

// Sprint creates the full exit code string with the given exit code.
func Sprint(exitCode int) string {
	return fmt.Sprintf(format, exitCode)
}

// Fprint writes the full exit code line with the given exit code into the given
// writer.
func Fprint(w io.Writer, exitCode int) (int, error) {
	return fmt.Fprintln(w, Sprint(exitCode)) //nolint:wrapcheck
}

// Parse parses the given string for the exit code.
//
// The identifier can be anywhere in the string. It does not need to be at the
// beginning. Returns the exit code and whether it was found in the given
// string.
func Parse(str string) (int, bool) {
	start := strings.Index(str, Identifier)
	if start < 0 {
		return 0, false
	}

	var exitCode int

	if _, err := fmt.Sscanf(str[start:], format, &exitCode); err != nil {
		return 0, false
	}

	return exitCode, true
}

// Scan reads lines from the reader until it finds the exit code line. Other
// lines are passed to the given function, if not nil.
func Scan(r io.Reader, other func(line string)) (int, error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()

		if exitCode, found := Parse(line); found {
			return exitCode, nil
		}

		if other != nil {
			other(line)
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}

	return 0, ErrNotFound
}
