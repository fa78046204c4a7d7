// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/loader"
	"github.com/aibor/usertask/internal/mm"
	"github.com/aibor/usertask/internal/spawn"
	"github.com/aibor/usertask/internal/task"
	"golang.org/x/sync/errgroup"
)

// Defaults for [Config].
const (
	DefaultCores      = 1
	DefaultMemorySize = 64 << 20
)

// Config is the machine configuration.
type Config struct {
	Cores      int
	MemorySize uint64
	// NX is whether the CPUs support the execute disable page flag.
	NX bool
	// MaxExecutable limits the size of spawned executables.
	MaxExecutable int
	// OnUserEntry is called when a task enters user mode. The returned
	// value is the task's exit code. If nil, the entry is logged and the
	// task exits with 0.
	OnUserEntry func(UserEntry) int
	Logger      *slog.Logger
}

// Machine is a simulated machine.
type Machine struct {
	Physical  *mm.Physical
	Frames    *mm.Frames
	CPUs      []*CPU
	Registry  *task.Registry
	Scheduler *task.Scheduler
	Loader    *loader.Loader
	Spawner   *spawn.Spawner

	cfg Config
}

// New creates a new machine.
func New(cfg Config) (*Machine, error) {
	if cfg.Cores <= 0 {
		cfg.Cores = DefaultCores
	}

	if cfg.MemorySize == 0 {
		cfg.MemorySize = DefaultMemorySize
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	phys, err := mm.NewPhysical(0, mm.PageFloor(cfg.MemorySize))
	if err != nil {
		return nil, fmt.Errorf("physical memory: %w", err)
	}

	m := &Machine{
		Physical: phys,
		Frames:   mm.NewFrames(phys),
		cfg:      cfg,
	}

	kernelInfo, err := m.newKernelInfo()
	if err != nil {
		return nil, err
	}

	sharedPage, err := m.Frames.Request(1)
	if err != nil {
		return nil, fmt.Errorf("shared page: %w", err)
	}

	cpus := make([]arch.CPU, cfg.Cores)
	m.CPUs = make([]*CPU, cfg.Cores)

	for idx := range cfg.Cores {
		m.CPUs[idx] = &CPU{machine: m, id: uint32(idx)}
		cpus[idx] = m.CPUs[idx]
	}

	m.Registry = task.NewRegistry(cpus...)
	m.Scheduler = task.NewScheduler(m.Registry, task.Config{
		NewSpace: func() mm.AddressSpace { return mm.NewSpace(phys) },
		Pages:    m.Frames,
		Kernel:   phys,
		Logger:   cfg.Logger,
	})
	m.Loader = loader.New(m.Frames, m.Scheduler, loader.Config{
		NX:         cfg.NX,
		KernelInfo: kernelInfo,
		SharedPage: sharedPage,
		Logger:     cfg.Logger,
	})
	m.Spawner = &spawn.Spawner{
		Creator:       m.Scheduler,
		Cores:         m.Registry,
		Entry:         m.Loader.Entry,
		MaxExecutable: cfg.MaxExecutable,
		Logger:        cfg.Logger,
	}

	return m, nil
}

// newKernelInfo allocates the kernel info page and fills in the number of
// cores and the memory size.
func (m *Machine) newKernelInfo() (uint64, error) {
	addr, err := m.Frames.Request(1)
	if err != nil {
		return 0, fmt.Errorf("kernel info: %w", err)
	}

	page, err := m.Physical.Bytes(addr, mm.PageSize)
	if err != nil {
		return 0, fmt.Errorf("kernel info: %w", err)
	}

	binary.LittleEndian.PutUint32(page[0:], uint32(m.cfg.Cores))
	binary.LittleEndian.PutUint64(page[8:], m.Physical.Size())

	return addr, nil
}

func (m *Machine) onUserEntry(state UserEntry) int {
	if m.cfg.OnUserEntry != nil {
		return m.cfg.OnUserEntry(state)
	}

	m.cfg.Logger.Info("Task entered user mode",
		slog.Any("id", state.Task),
		slog.Any("core", state.Core),
		slog.String("entry", fmt.Sprintf("%#x", state.Entry)),
		slog.String("stack", fmt.Sprintf("%#x", state.Stack)),
		slog.Any("argv", state.View.Argv))

	return 0
}

// Run runs the scheduler until the context is done.
func (m *Machine) Run(ctx context.Context) error {
	return m.Scheduler.Run(ctx) //nolint:wrapcheck
}

// Serve runs the scheduler and a spawn server on the listener until the
// context is done or one of them fails.
func (m *Machine) Serve(ctx context.Context, listener net.Listener, maxConns int) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return m.Run(ctx)
	})

	group.Go(func() error {
		server := &spawn.Server{
			Listener: listener,
			Spawner:  m.Spawner,
			Waiter:   m.Scheduler,
			MaxConns: maxConns,
			Logger:   m.cfg.Logger,
		}

		return server.Serve(ctx)
	})

	return group.Wait() //nolint:wrapcheck
}
