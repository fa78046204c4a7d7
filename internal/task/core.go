// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/mm"
)

// Core is the private context of a single CPU core.
type Core struct {
	ID  uint32
	CPU arch.CPU

	mu      sync.Mutex
	current *Task
}

// Current returns the task currently running on the core.
func (c *Core) Current() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

func (c *Core) setCurrent(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = t
}

// Registry holds all cores of the system.
type Registry struct {
	cores []*Core
	next  atomic.Uint32
}

// NewRegistry creates a registry with one core per given CPU. Core IDs are
// the indexes of the CPUs.
func NewRegistry(cpus ...arch.CPU) *Registry {
	registry := &Registry{
		cores: make([]*Core, len(cpus)),
	}

	for idx, cpu := range cpus {
		registry.cores[idx] = &Core{ID: uint32(idx), CPU: cpu}
	}

	return registry
}

// Core returns the core with the given ID.
func (r *Registry) Core(id uint32) (*Core, error) {
	if int(id) >= len(r.cores) {
		return nil, fmt.Errorf("%w: no core %d", mm.ErrInvalidArgument, id)
	}

	return r.cores[id], nil
}

// Cores returns all cores.
func (r *Registry) Cores() []*Core {
	return r.cores
}

// NextCore picks the core for the next task round robin.
func (r *Registry) NextCore() uint32 {
	if len(r.cores) == 0 {
		return 0
	}

	return (r.next.Add(1) - 1) % uint32(len(r.cores))
}
