// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// RegionFlags describe the permissions and properties of a [Region].
type RegionFlags uint32

// Region flags.
const (
	RegionRead RegionFlags = 1 << iota
	RegionWrite
	RegionExecute
	RegionCacheable
	RegionNoAccess
	RegionHeap
	RegionUser
)

func (f RegionFlags) String() string {
	var builder strings.Builder

	for _, flag := range []struct {
		flag RegionFlags
		char byte
	}{
		{RegionRead, 'r'},
		{RegionWrite, 'w'},
		{RegionExecute, 'x'},
		{RegionCacheable, 'c'},
		{RegionNoAccess, 'n'},
		{RegionHeap, 'h'},
		{RegionUser, 'u'},
	} {
		if f&flag.flag != 0 {
			builder.WriteByte(flag.char)
		} else {
			builder.WriteByte('-')
		}
	}

	return builder.String()
}

// Region is a registered memory interval [Start, End).
type Region struct {
	Start uint64
	End   uint64
	Flags RegionFlags
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s", r.Start, r.End, r.Flags)
}

// Contains returns true if the address is inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r Region) overlaps(other Region) bool {
	return r.Start < other.End && other.Start < r.End
}

// RegionRegistrar registers memory regions for later fault handling.
type RegionRegistrar interface {
	Register(start, end uint64, flags RegionFlags) error
}

// Regions is a [RegionRegistrar] that keeps non-overlapping regions sorted
// by start address. It is safe for concurrent use.
type Regions struct {
	mu      sync.Mutex
	regions []Region
}

var _ RegionRegistrar = (*Regions)(nil)

// Register adds a new region. Empty and overlapping regions are rejected
// with [ErrInvalidArgument].
func (r *Regions) Register(start, end uint64, flags RegionFlags) error {
	if start >= end {
		return fmt.Errorf("%w: empty region %#x-%#x", ErrInvalidArgument, start, end)
	}

	region := Region{Start: start, End: end, Flags: flags}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, _ := slices.BinarySearchFunc(r.regions, start, func(e Region, t uint64) int {
		return cmp.Compare(e.Start, t)
	})

	if idx > 0 && r.regions[idx-1].overlaps(region) {
		return fmt.Errorf("%w: region %s overlaps %s", ErrInvalidArgument, region, r.regions[idx-1])
	}

	if idx < len(r.regions) && r.regions[idx].overlaps(region) {
		return fmt.Errorf("%w: region %s overlaps %s", ErrInvalidArgument, region, r.regions[idx])
	}

	r.regions = slices.Insert(r.regions, idx, region)

	return nil
}

// Find returns the region containing the given address.
func (r *Regions) Find(addr uint64) (Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, region := range r.regions {
		if region.Contains(addr) {
			return region, true
		}
	}

	return Region{}, false
}

// All returns a copy of all registered regions.
func (r *Regions) All() []Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.regions)
}
