// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later


package mm

import "sync"

// PageReleaser is a [PageAllocator] that takes pages back.
type PageReleaser interface {
	PageAllocator
	Release(addr, n uint64)
}

var _ PageReleaser = (*Frames)(nil)

type pageRun struct {
	addr uint64
	n    uint64
}

// Owned allocates pages on behalf of a single owner, like a task, and
// gives all of them back at once.
type Owned struct {
	mu    sync.Mutex
	pages PageReleaser
	runs  []pageRun
}

var _ PageAllocator = (*Owned)(nil)

// NewOwned creates an allocator that requests its pages from pages.
func NewOwned(pages PageReleaser) *Owned {
	return &Owned{pages: pages}
}

// Request implements [PageAllocator]. The pages are held until
// [Owned.ReleaseAll].
func (o *Owned) Request(n uint64) (uint64, error) {
	addr, err := o.pages.Request(n)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.runs = append(o.runs, pageRun{addr: addr, n: n})

	return addr, nil
}

// Held returns the number of pages currently held.
func (o *Owned) Held() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	var held uint64
	for _, run := range o.runs {
		held += run.n
	}

	return held
}

// ReleaseAll gives all held pages back and returns their number.
func (o *Owned) ReleaseAll() uint64 {
	o.mu.Lock()
	runs := o.runs
	o.runs = nil
	o.mu.Unlock()

	var released uint64

	for _, run := range runs {
		o.pages.Release(run.addr, run.n)
		released += run.n
	}

	return released
}
