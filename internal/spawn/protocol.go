// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spawn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aibor/usertask/internal/loader"
	"github.com/aibor/usertask/internal/mm"
)

// DefaultMaxExecutable limits the executable size if no other limit is
// given.
const DefaultMaxExecutable = 64 << 20

var byteOrder = binary.NativeEndian

// ReadRequest reads a spawn request from r. The returned request belongs to
// the given connection. maxExe limits the size of the executable, a value
// of 0 or less allows [DefaultMaxExecutable] bytes.
func ReadRequest(r io.Reader, conn io.Closer, maxExe int) (*loader.Request, error) {
	if maxExe <= 0 {
		maxExe = DefaultMaxExecutable
	}

	argc, err := readLength(r, "argc")
	if err != nil {
		return nil, err
	}

	req := loader.NewRequest(conn)
	req.Argc = argc

	for idx := range argc {
		length, err := readLength(r, "argument length")
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", idx, err)
		}

		buf, err := req.Append(length)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", idx, err)
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: argument %d: %w", mm.ErrInvalidArgument, idx, err)
		}
	}

	if err := req.Terminate(); err != nil {
		return nil, err
	}

	exeLen, err := readLength(r, "executable length")
	if err != nil {
		return nil, err
	}

	if exeLen > maxExe {
		return nil, fmt.Errorf("%w: executable of %d bytes", mm.ErrOutOfMemory, exeLen)
	}

	req.Executable = make([]byte, exeLen)
	if _, err := io.ReadFull(r, req.Executable); err != nil {
		return nil, fmt.Errorf("%w: executable: %w", mm.ErrInvalidArgument, err)
	}

	return req, nil
}

// readLength reads a single positive integer.
func readLength(r io.Reader, name string) (int, error) {
	var value int32
	if err := binary.Read(r, byteOrder, &value); err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", mm.ErrInvalidArgument, name, err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("%w: %s %d", mm.ErrInvalidArgument, name, value)
	}

	return int(value), nil
}

// WriteRequest writes a spawn request for the given arguments and
// executable. The first argument is the program name.
func WriteRequest(w io.Writer, args []string, exe []byte) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no arguments", mm.ErrInvalidArgument)
	}

	var buf bytes.Buffer

	_ = binary.Write(&buf, byteOrder, int32(len(args)))

	for _, arg := range args {
		_ = binary.Write(&buf, byteOrder, int32(len(arg)))
		buf.WriteString(arg)
	}

	_ = binary.Write(&buf, byteOrder, int32(len(exe)))
	buf.Write(exe)

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	return nil
}
