// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm

import "strings"

const (
	// PageBits is the number of bits of the in-page offset.
	PageBits = 12
	// PageSize is the size of a single page in bytes.
	PageSize = 1 << PageBits
)

// PageFloor rounds the given address down to the start of its page.
func PageFloor(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// PageCount returns the number of pages required to hold size bytes.
func PageCount(size uint64) uint64 {
	pages := size >> PageBits
	if size&(PageSize-1) != 0 {
		pages++
	}

	return pages
}

// PageFlags are the page table entry flags used for mapping pages.
type PageFlags uint64

// Page table entry flags as used by x86-64 paging.
const (
	PagePresent PageFlags = 1 << 0
	PageRW      PageFlags = 1 << 1
	PageUser    PageFlags = 1 << 2
	// PageNoExec is the execute disable bit. Only valid if the CPU supports
	// it.
	PageNoExec PageFlags = 1 << 63
)

func (f PageFlags) String() string {
	names := []string{}

	for _, flag := range []struct {
		flag PageFlags
		name string
	}{
		{PagePresent, "present"},
		{PageRW, "rw"},
		{PageUser, "user"},
		{PageNoExec, "xd"},
	} {
		if f&flag.flag != 0 {
			names = append(names, flag.name)
		}
	}

	return strings.Join(names, "|")
}
