// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ustack

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// maxString limits the length of a string read by [Inspect].
const maxString = mm.PageSize

// Reader reads from virtual memory.
type Reader interface {
	Read(virt uint64, data []byte) error
}

// View is what a started program finds on its stack.
type View struct {
	Argc     uint64
	ArgvAddr uint64
	EnvpAddr uint64
	Argv     []string
	Envp     []string
}

// Inspect reads the stack at sp the way a program startup routine does:
// argc, the argv pointer and the envp pointer, followed by the strings they
// point to. Environment pointers are read up to the NULL terminator.
func Inspect(mem Reader, sp uint64) (View, error) {
	var view View

	words := make([]byte, 3*WordSize)
	if err := mem.Read(sp, words); err != nil {
		return view, fmt.Errorf("read entry words: %w", err)
	}

	view.Argc = binary.LittleEndian.Uint64(words[0:])
	view.ArgvAddr = binary.LittleEndian.Uint64(words[WordSize:])
	view.EnvpAddr = binary.LittleEndian.Uint64(words[2*WordSize:])

	for idx := range view.Argc {
		str, err := readStringAt(mem, view.ArgvAddr+idx*WordSize)
		if err != nil {
			return view, fmt.Errorf("argv[%d]: %w", idx, err)
		}

		view.Argv = append(view.Argv, str)
	}

	if view.EnvpAddr == 0 {
		return view, nil
	}

	for ptr := view.EnvpAddr; ; ptr += WordSize {
		addr, err := readWord(mem, ptr)
		if err != nil {
			return view, fmt.Errorf("envp: %w", err)
		}

		if addr == 0 {
			break
		}

		str, err := readString(mem, addr)
		if err != nil {
			return view, fmt.Errorf("envp[%d]: %w", len(view.Envp), err)
		}

		view.Envp = append(view.Envp, str)
	}

	return view, nil
}

func readWord(mem Reader, addr uint64) (uint64, error) {
	buf := make([]byte, WordSize)
	if err := mem.Read(addr, buf); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return binary.LittleEndian.Uint64(buf), nil
}

func readStringAt(mem Reader, ptr uint64) (string, error) {
	addr, err := readWord(mem, ptr)
	if err != nil {
		return "", err
	}

	return readString(mem, addr)
}

func readString(mem Reader, addr uint64) (string, error) {
	var str []byte

	buf := make([]byte, 1)

	for len(str) < maxString {
		if err := mem.Read(addr+uint64(len(str)), buf); err != nil {
			return "", err //nolint:wrapcheck
		}

		if buf[0] == 0 {
			return string(str), nil
		}

		str = append(str, buf[0])
	}

	return "", fmt.Errorf("%w: string at %#x too long", mm.ErrInvalidArgument, addr)
}

// Strings encodes the given strings NUL terminated and concatenated.
func Strings(strs ...string) []byte {
	var buf bytes.Buffer

	for _, str := range strs {
		buf.WriteString(str)
		buf.WriteByte(0)
	}

	return buf.Bytes()
}
