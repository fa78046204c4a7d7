// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm

import (
	"fmt"
	"sync"
)

// PageAllocator hands out physically contiguous pages.
type PageAllocator interface {
	// Request allocates n contiguous pages and returns the physical address
	// of the first one. Fails with [ErrOutOfMemory].
	Request(n uint64) (uint64, error)
}

// Physical is a contiguous physical memory range backed by host memory.
//
// The kernel accesses physical memory directly, so [Physical.Bytes] is the
// kernel's view of a physical range.
type Physical struct {
	base uint64
	mem  []byte
}

// NewPhysical creates physical memory of the given size starting at base.
// Both must be page aligned.
func NewPhysical(base, size uint64) (*Physical, error) {
	if base&(PageSize-1) != 0 || size&(PageSize-1) != 0 || size == 0 {
		return nil, fmt.Errorf("%w: unaligned physical memory %#x+%#x", ErrInvalidArgument, base, size)
	}

	return &Physical{
		base: base,
		mem:  make([]byte, size),
	}, nil
}

// Base returns the first physical address.
func (p *Physical) Base() uint64 {
	return p.base
}

// Size returns the size in bytes.
func (p *Physical) Size() uint64 {
	return uint64(len(p.mem))
}

// Bytes returns the host memory for the physical range [addr, addr+size).
func (p *Physical) Bytes(addr, size uint64) ([]byte, error) {
	if addr < p.base || addr-p.base > p.Size() || size > p.Size()-(addr-p.base) {
		return nil, fmt.Errorf("%w: physical %#x+%#x", ErrFault, addr, size)
	}

	off := addr - p.base

	return p.mem[off : off+size : off+size], nil
}

// Frames is a first-fit [PageAllocator] for the pages of a [Physical]
// memory. It is safe for concurrent use.
type Frames struct {
	mu   sync.Mutex
	phys *Physical
	used []bool
}

var _ PageAllocator = (*Frames)(nil)

// NewFrames creates a new allocator for all pages of the given memory.
func NewFrames(phys *Physical) *Frames {
	return &Frames{
		phys: phys,
		used: make([]bool, phys.Size()>>PageBits),
	}
}

// Request implements [PageAllocator].
func (f *Frames) Request(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: zero pages requested", ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var run uint64

	for idx := range f.used {
		if f.used[idx] {
			run = 0
			continue
		}

		run++
		if run < n {
			continue
		}

		first := uint64(idx) + 1 - n
		for page := first; page <= uint64(idx); page++ {
			f.used[page] = true
		}

		return f.phys.base + first<<PageBits, nil
	}

	return 0, fmt.Errorf("%w: %d pages", ErrOutOfMemory, n)
}

// Release returns n pages starting at the given physical address.
func (f *Frames) Release(addr, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := (addr - f.phys.base) >> PageBits
	for page := first; page < first+n && page < uint64(len(f.used)); page++ {
		f.used[page] = false
	}
}

// Free returns the number of unallocated pages.
func (f *Frames) Free() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var free uint64

	for _, used := range f.used {
		if !used {
			free++
		}
	}

	return free
}
