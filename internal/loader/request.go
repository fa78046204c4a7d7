// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aibor/usertask/internal/mm"
)

// MaxArgs is the capacity of the argument buffer of a [Request]: one page
// less two 32 bit integers.
const MaxArgs = mm.PageSize - 2*4

// Request is everything a new task needs to load its program.
type Request struct {
	// Executable is the complete ELF image.
	Executable []byte
	// Conn is the connection the request was received on.
	Conn io.Closer
	Argc int
	Envc int
	// Buffer holds the argument strings as received. The terminating NUL
	// follows the last one.
	Buffer [MaxArgs]byte

	used        int
	lengths     []int
	releaseOnce sync.Once
	released    atomic.Bool
}

// NewRequest creates an empty request received on the given connection.
func NewRequest(conn io.Closer) *Request {
	return &Request{Conn: conn}
}

// Used returns the number of used bytes in [Request.Buffer].
func (r *Request) Used() int {
	return r.used
}

// Lengths returns the lengths of all strings appended so far.
func (r *Request) Lengths() []int {
	return r.lengths
}

// Append reserves space for the next string of the given length and
// returns the part of the buffer it must be read into. The running total
// must stay below [MaxArgs], so there is room for the terminating NUL.
func (r *Request) Append(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: string length %d", mm.ErrInvalidArgument, length)
	}

	if r.used+length >= MaxArgs {
		return nil, fmt.Errorf("%w: arguments exceed %d bytes", mm.ErrInvalidArgument, MaxArgs)
	}

	start := r.used
	r.used += length
	r.lengths = append(r.lengths, length)

	return r.Buffer[start:r.used:r.used], nil
}

// Terminate appends the NUL after the last string.
func (r *Request) Terminate() error {
	if r.used >= MaxArgs {
		return fmt.Errorf("%w: no room for terminator", mm.ErrInvalidArgument)
	}

	r.Buffer[r.used] = 0
	r.used++

	return nil
}

// StringTable returns the strings in order, each NUL terminated, as the
// user stack expects them.
func (r *Request) StringTable() []byte {
	table := make([]byte, 0, r.used+len(r.lengths))
	offset := 0

	for _, length := range r.lengths {
		table = append(table, r.Buffer[offset:offset+length]...)
		table = append(table, 0)
		offset += length
	}

	return table
}

// Release frees the executable and the arguments. Only the first call has
// an effect. The connection is left open.
func (r *Request) Release() {
	r.releaseOnce.Do(func() {
		r.Executable = nil
		r.lengths = nil
		r.used = 0
		clear(r.Buffer[:])
		r.released.Store(true)
	})
}

// Released returns whether [Request.Release] was called. It is safe to
// call from any goroutine.
func (r *Request) Released() bool {
	return r.released.Load()
}
