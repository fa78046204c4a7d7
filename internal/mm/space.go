// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// AddressSpace is a virtual address space pages can be mapped into.
//
// Write, Read and Zero are kernel accesses through the current mappings.
// They ignore the page permissions but fail with [ErrFault] on addresses
// that are not mapped.
type AddressSpace interface {
	// Root identifies the page table, like the value loaded into CR3.
	Root() uint64
	// Map maps n pages starting at the physical address to the virtual
	// address. Existing mappings are replaced.
	Map(virt, phys, n uint64, flags PageFlags) error
	// SetFlags replaces the flags of n already mapped pages.
	SetFlags(virt, n uint64, flags PageFlags) error
	Write(virt uint64, data []byte) error
	Read(virt uint64, data []byte) error
	Zero(virt, size uint64) error
}

type pte struct {
	phys  uint64
	flags PageFlags
}

var lastRoot atomic.Uint64

// Space is an [AddressSpace] with a single level page table resolving into
// a [Physical] memory. It is safe for concurrent use.
type Space struct {
	mu    sync.RWMutex
	root  uint64
	phys  *Physical
	table map[uint64]pte
}

var _ AddressSpace = (*Space)(nil)

// NewSpace creates an empty address space resolving into the given physical
// memory.
func NewSpace(phys *Physical) *Space {
	return &Space{
		root:  lastRoot.Add(1) << PageBits,
		phys:  phys,
		table: make(map[uint64]pte),
	}
}

// Root implements [AddressSpace].
func (s *Space) Root() uint64 {
	return s.root
}

// Map implements [AddressSpace].
func (s *Space) Map(virt, phys, n uint64, flags PageFlags) error {
	if virt&(PageSize-1) != 0 || phys&(PageSize-1) != 0 {
		return fmt.Errorf("%w: unaligned mapping %#x -> %#x", ErrInvalidArgument, virt, phys)
	}

	if _, err := s.phys.Bytes(phys, n<<PageBits); err != nil {
		return fmt.Errorf("%w: map %#x: %w", ErrOutOfMemory, virt, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for page := range n {
		s.table[(virt>>PageBits)+page] = pte{
			phys:  phys + page<<PageBits,
			flags: flags | PagePresent,
		}
	}

	return nil
}

// SetFlags implements [AddressSpace].
func (s *Space) SetFlags(virt, n uint64, flags PageFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := virt >> PageBits

	for page := first; page < first+n; page++ {
		entry, exists := s.table[page]
		if !exists {
			return fmt.Errorf("%w: set flags %#x", ErrFault, page<<PageBits)
		}

		entry.flags = flags | PagePresent
		s.table[page] = entry
	}

	return nil
}

// Lookup returns the physical address and flags the given virtual address
// is mapped to.
func (s *Space) Lookup(virt uint64) (uint64, PageFlags, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.table[virt>>PageBits]
	if !exists {
		return 0, 0, false
	}

	return entry.phys + virt&(PageSize-1), entry.flags, true
}

// Mapped returns the number of mapped pages.
func (s *Space) Mapped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.table)
}

// access runs fn for each page-bounded chunk of [virt, virt+size).
func (s *Space) access(virt, size uint64, fn func(mem []byte, done uint64)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var done uint64

	for done < size {
		addr := virt + done

		entry, exists := s.table[addr>>PageBits]
		if !exists {
			return fmt.Errorf("%w: %#x", ErrFault, addr)
		}

		offset := addr & (PageSize - 1)
		chunk := min(PageSize-offset, size-done)

		mem, err := s.phys.Bytes(entry.phys+offset, chunk)
		if err != nil {
			return err
		}

		fn(mem, done)
		done += chunk
	}

	return nil
}

// Write implements [AddressSpace].
func (s *Space) Write(virt uint64, data []byte) error {
	return s.access(virt, uint64(len(data)), func(mem []byte, done uint64) {
		copy(mem, data[done:])
	})
}

// Read implements [AddressSpace].
func (s *Space) Read(virt uint64, data []byte) error {
	return s.access(virt, uint64(len(data)), func(mem []byte, done uint64) {
		copy(data[done:], mem)
	})
}

// Zero implements [AddressSpace].
func (s *Space) Zero(virt, size uint64) error {
	return s.access(virt, size, func(mem []byte, _ uint64) {
		clear(mem)
	})
}
