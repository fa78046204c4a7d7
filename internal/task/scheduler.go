// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/mm"
	"golang.org/x/sync/errgroup"
)

// Kernel text addresses of the scheduler's own routines and the bases of
// the word tables standing in for entry functions and their arguments.
const (
	TrampolineAddr      = 0x201000
	LeaveKernelTaskAddr = 0x201100
	entryTableBase      = 0x210000
	argTableBase        = 0x10000000
)

// Defaults for [Config].
const (
	DefaultKernelStackSize = 8 * 1024
	DefaultKernelStackBase = 0x20000000
	DefaultPerCoreSize     = 0x1000
)

// EntryFunc is the function a task runs after the trampoline. The returned
// value is the task's exit code.
type EntryFunc func(core *Core, arg any) int

// Creator creates new tasks.
type Creator interface {
	Create(entry EntryFunc, arg any, prio uint8, core uint32) (ID, error)
}

// Exiter terminates the task currently running on a core.
type Exiter interface {
	// Exit does not return.
	Exit(core *Core, code int)
}

// KernelMemory is the kernel's direct view of physical memory.
type KernelMemory interface {
	Bytes(addr, size uint64) ([]byte, error)
}

// Config is the scheduler configuration.
type Config struct {
	KernelStackSize uint64
	KernelStackBase uint64
	PerCoreSize     uint64
	// NewSpace returns the address space for a new task.
	NewSpace func() mm.AddressSpace
	// Pages backs the per-task page allocations. Kernel is used for
	// filling TLS blocks.
	Pages  mm.PageReleaser
	Kernel KernelMemory
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.KernelStackSize == 0 {
		c.KernelStackSize = DefaultKernelStackSize
	}

	if c.KernelStackBase == 0 {
		c.KernelStackBase = DefaultKernelStackBase
	}

	if c.PerCoreSize == 0 {
		c.PerCoreSize = DefaultPerCoreSize
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler creates tasks and runs them on the cores of a [Registry]. Each
// core has its own run queue.
type Scheduler struct {
	cfg      Config
	registry *Registry
	symbols  arch.Symbols
	entries  *table[EntryFunc]
	args     *table[any]

	mu     sync.Mutex
	nextID ID
	tasks  map[ID]*Task
	queues []*runQueue
}

var (
	_ Creator = (*Scheduler)(nil)
	_ Exiter  = (*Scheduler)(nil)
)

// NewScheduler creates a new scheduler for the given cores.
func NewScheduler(registry *Registry, cfg Config) *Scheduler {
	cfg.setDefaults()

	queues := make([]*runQueue, len(registry.Cores()))
	for idx := range queues {
		queues[idx] = newRunQueue()
	}

	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		symbols: arch.Symbols{
			Trampoline:      TrampolineAddr,
			LeaveKernelTask: LeaveKernelTaskAddr,
			PerCoreSize:     cfg.PerCoreSize,
		},
		entries: newTable[EntryFunc](entryTableBase, 0x10),
		args:    newTable[any](argTableBase, 0x1000),
		tasks:   make(map[ID]*Task),
		queues:  queues,
	}
}

// Registry returns the cores the scheduler runs tasks on.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Create implements [Creator]. The new task gets a kernel stack with a
// default frame entering the trampoline and is queued on the given core.
func (s *Scheduler) Create(entry EntryFunc, arg any, prio uint8, coreID uint32) (ID, error) {
	if entry == nil {
		return 0, fmt.Errorf("%w: no entry function", mm.ErrInvalidArgument)
	}

	if _, err := s.registry.Core(coreID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextID++
	t := newTask(s.nextID, coreID, prio)
	s.mu.Unlock()

	t.Stack = arch.NewKernelStack(
		s.cfg.KernelStackBase+uint64(t.ID)*s.cfg.KernelStackSize,
		s.cfg.KernelStackSize,
	)

	if s.cfg.NewSpace != nil {
		t.Space = s.cfg.NewSpace()
	}

	if s.cfg.Pages != nil {
		t.Pages = mm.NewOwned(s.cfg.Pages)
	}

	entryAddr := s.entries.add(entry)
	argAddr := s.args.add(arg)

	if err := CreateDefaultFrame(t, s.symbols, entryAddr, argAddr, coreID); err != nil {
		s.entries.take(entryAddr)
		s.args.take(argAddr)

		return 0, err
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	s.queues[coreID].push(t)

	s.cfg.Logger.Debug("Task created",
		slog.Any("id", t.ID),
		slog.Any("core", coreID),
		slog.Any("prio", prio))

	return t.ID, nil
}

// Task returns the task with the given ID.
func (s *Scheduler) Task(id ID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}

	return t, nil
}

// Wait waits for the task to exit and forgets about it afterwards. A non
// zero exit code is returned as [exitcode.Error].
func (s *Scheduler) Wait(ctx context.Context, id ID) error {
	t, err := s.Task(id)
	if err != nil {
		return err
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()

	if code := t.ExitCode(); code != 0 {
		return exitcode.Error(code)
	}

	return nil
}

// Run dispatches queued tasks on all cores until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, core := range s.registry.Cores() {
		queue := s.queues[core.ID]

		group.Go(func() error {
			for {
				t, ok := queue.pop(ctx)
				if !ok {
					return nil
				}

				s.dispatch(core, t)
			}
		})
	}

	return group.Wait() //nolint:wrapcheck
}

// dispatch resumes the task from its saved frame and blocks until it is
// done. The task runs in its own goroutine, so [Scheduler.Exit] can
// terminate it from anywhere.
func (s *Scheduler) dispatch(core *Core, t *Task) {
	core.setCurrent(t)
	defer core.setCurrent(nil)

	if t.Space != nil {
		if root := t.Space.Root(); core.CPU.ReadCR3() != root {
			core.CPU.WriteCR3(root)
		}
	}

	frame, err := t.Stack.ReadFrame(t.LastStackPointer)
	if err == nil && frame.RIP != s.symbols.Trampoline {
		err = fmt.Errorf("%w: rip %#x", ErrBadFrame, frame.RIP)
	}

	if err != nil {
		s.cfg.Logger.Error("Failed to resume task",
			slog.Any("id", t.ID),
			slog.Any("error", err))
		s.finish(t, -int(mm.Errno(err)))

		return
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		code := s.trampoline(core, t, frame.RSI, frame.RDI)
		s.leaveKernelTask(t, code)
	}()

	<-done
}

// leaveKernelTask is where a trampoline that returns ends up.
func (s *Scheduler) leaveKernelTask(t *Task, code int) {
	s.finish(t, code)
}

// Exit implements [Exiter]. It terminates the calling goroutine, which must
// be the one running the task dispatched on the core.
func (s *Scheduler) Exit(core *Core, code int) {
	if t := core.Current(); t != nil {
		s.finish(t, code)
	}

	runtime.Goexit()
}

func (s *Scheduler) finish(t *Task, code int) {
	if !t.exit(code, func() { s.teardown(t) }) {
		return
	}

	level := slog.LevelDebug
	if code != 0 {
		level = slog.LevelWarn
	}

	s.cfg.Logger.Log(context.Background(), level, "Task exited",
		slog.Any("id", t.ID),
		slog.Int("code", code))
}

// teardown gives the pages of the exited task back.
func (s *Scheduler) teardown(t *Task) {
	if t.Pages == nil {
		return
	}

	released := t.Pages.ReleaseAll()

	s.cfg.Logger.Debug("Task pages released",
		slog.Any("id", t.ID),
		slog.Uint64("pages", released))
}

// runQueue is an unbounded FIFO of tasks.
type runQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	notify chan struct{}
}

func newRunQueue() *runQueue {
	return &runQueue{notify: make(chan struct{}, 1)}
}

func (q *runQueue) push(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *runQueue) pop(ctx context.Context) (*Task, bool) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			t := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()

			return t, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}
