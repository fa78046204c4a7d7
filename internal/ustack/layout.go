// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ustack

import (
	"bytes"
	"fmt"

	"github.com/aibor/usertask/internal/mm"
)

// Alignment is the stack alignment required at program entry.
const Alignment = 16

// Layout describes the initial user stack content.
type Layout struct {
	// Base is the virtual address of the lowest stack byte.
	Base uint64
	// Size of the stack in bytes.
	Size uint64
	Argc int
	Envc int
	// Strings holds the argument and then the environment strings, each
	// NUL terminated.
	Strings []byte
	// StringArea is the number of bytes reserved for Strings. If Strings is
	// longer, its length is used.
	StringArea uint64
}

// Stack is a built user stack.
type Stack struct {
	// SP is the stack pointer to start the program with.
	SP uint64
	// Data is the stack content from SP up to the end of the stack.
	Data []byte
}

// Build lays out the stack from high addresses downwards: a zero word,
// the strings, the argv pointers, the NULL terminated envp pointers and,
// after 16 byte alignment and one reserved word, the envp pointer, the argv
// pointer and argc.
func Build(layout Layout) (Stack, error) {
	if layout.Argc < 0 || layout.Envc < 0 || layout.Size < Alignment {
		return Stack{}, fmt.Errorf("%w: stack layout", mm.ErrInvalidArgument)
	}

	cursor := NewCursor(layout.Base, make([]byte, layout.Size))

	if err := cursor.Seek(layout.Size - Alignment); err != nil {
		return Stack{}, err
	}

	// Terminating zero word right above the strings.
	if err := cursor.PutWord(cursor.Offset(), 0); err != nil {
		return Stack{}, err
	}

	area := max(layout.StringArea, uint64(len(layout.Strings)))
	if err := cursor.Reserve(area); err != nil {
		return Stack{}, err
	}

	if err := cursor.Put(cursor.Offset(), layout.Strings); err != nil {
		return Stack{}, err
	}

	strs := newStringScanner(cursor.Offset(), layout.Strings)

	if err := cursor.Reserve(uint64(layout.Argc) * WordSize); err != nil {
		return Stack{}, err
	}

	argv := cursor.Offset()
	if err := fillPointers(cursor, argv, layout.Argc, strs); err != nil {
		return Stack{}, fmt.Errorf("argv: %w", err)
	}

	if err := cursor.Reserve(uint64(layout.Envc+1) * WordSize); err != nil {
		return Stack{}, err
	}

	envp := cursor.Offset()
	if err := fillPointers(cursor, envp, layout.Envc, strs); err != nil {
		return Stack{}, fmt.Errorf("envp: %w", err)
	}

	if err := cursor.PutWord(envp+uint64(layout.Envc)*WordSize, 0); err != nil {
		return Stack{}, err
	}

	if err := cursor.AlignDown(Alignment); err != nil {
		return Stack{}, err
	}

	if err := cursor.Reserve(WordSize); err != nil {
		return Stack{}, err
	}

	var envpAddr uint64
	if layout.Envc > 0 {
		envpAddr = cursor.AddrOf(envp)
	}

	for _, word := range []uint64{
		envpAddr,
		cursor.AddrOf(argv),
		uint64(layout.Argc),
	} {
		if err := cursor.PushWord(word); err != nil {
			return Stack{}, err
		}
	}

	return Stack{
		SP:   cursor.Addr(),
		Data: cursor.Bytes(),
	}, nil
}

func fillPointers(cursor *Cursor, off uint64, count int, strs *stringScanner) error {
	for idx := range count {
		str, err := strs.next()
		if err != nil {
			return fmt.Errorf("string %d: %w", idx, err)
		}

		if err := cursor.PutWord(off+uint64(idx)*WordSize, cursor.AddrOf(str)); err != nil {
			return err
		}
	}

	return nil
}

// stringScanner yields the offsets of consecutive NUL terminated strings.
type stringScanner struct {
	base uint64
	data []byte
	pos  int
}

func newStringScanner(base uint64, data []byte) *stringScanner {
	return &stringScanner{base: base, data: data}
}

func (s *stringScanner) next() (uint64, error) {
	end := bytes.IndexByte(s.data[s.pos:], 0)
	if end < 0 {
		return 0, fmt.Errorf("%w: string not terminated", mm.ErrInvalidArgument)
	}

	off := s.base + uint64(s.pos)
	s.pos += end + 1

	return off, nil
}
