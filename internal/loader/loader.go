// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aibor/usertask/internal/arch"
	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/mm"
	"github.com/aibor/usertask/internal/task"
	"github.com/aibor/usertask/internal/ustack"
)

// Fixed virtual memory layout of user tasks.
const (
	// KernelSpace is the end of the kernel. Entry points must be above.
	KernelSpace = 1 << 30
	// StackAddress is the lowest address of the user stack.
	StackAddress = 1 << 34
	// DefaultStackSize is the size of the user stack.
	DefaultStackSize = 256 * 1024
	// StartAddress is the lowest address of user programs. The kernel info
	// page and the shared page are mapped right below.
	StartAddress = 0x40200000
	// ABIMarker is the note name identifying executables built for this
	// kernel.
	ABIMarker = "HermitCore"
)

var (
	// ErrNoHeap is returned if the executable has no loadable segment.
	ErrNoHeap = fmt.Errorf("heap is missing: %w", mm.ErrOutOfMemory)
	// ErrNoStack is returned if the executable has no stack segment.
	ErrNoStack = fmt.Errorf("stack is missing: %w", mm.ErrOutOfMemory)
	// ErrNoMarker is returned if the executable lacks the [ABIMarker] note.
	ErrNoMarker = fmt.Errorf("not a valid executable: %w", mm.ErrInvalidArgument)
	// ErrNoTask is returned if there is no current task to load into.
	ErrNoTask = fmt.Errorf("no current task: %w", mm.ErrInvalidArgument)
)

// Config is the loader configuration.
type Config struct {
	// NX is whether the CPU supports the execute disable page flag.
	NX bool
	// KernelInfo and SharedPage are the physical addresses of the pages
	// mapped below [StartAddress] into every task.
	KernelInfo uint64
	SharedPage uint64
	Logger     *slog.Logger
}

// Handoff is the user mode start state of a loaded program.
type Handoff struct {
	Entry uint64
	Stack uint64
	// View is what the program finds on its stack.
	View ustack.View
}

// Loader loads executables into tasks.
type Loader struct {
	cfg    Config
	pages  mm.PageAllocator
	exiter task.Exiter
}

// New creates a new loader. Segments and stacks are allocated from the
// task's own pages, or from the given page allocator if the task has none.
// Tasks that fail to load are terminated with the exiter.
func New(pages mm.PageAllocator, exiter task.Exiter, cfg Config) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Loader{
		cfg:    cfg,
		pages:  pages,
		exiter: exiter,
	}
}

// Entry is the [task.EntryFunc] of user tasks. The argument must be the
// task's [*Request]. It returns only if the argument is invalid or the
// exiter returns.
func (l *Loader) Entry(core *task.Core, arg any) int {
	req, ok := arg.(*Request)
	if !ok || req == nil {
		return exitcode.FromErrno(mm.Errno(mm.ErrInvalidArgument))
	}

	handoff, err := l.Load(core.Current(), req)
	if err != nil {
		code := exitcode.FromErrno(mm.Errno(err))

		l.cfg.Logger.Error("Load task failed",
			slog.Int("code", code),
			slog.Any("error", err))
		l.exiter.Exit(core, code)

		return code
	}

	arch.EnterUser(core.CPU, handoff.Entry, handoff.Stack)
	l.exiter.Exit(core, 0)

	return 0
}

// Load validates the executable of the request and loads it into the
// task's address space. The request is released in any case.
//
// Mappings done before a failure are not undone.
func (l *Loader) Load(t *task.Task, req *Request) (Handoff, error) {
	if req == nil {
		return Handoff{}, fmt.Errorf("%w: no request", mm.ErrInvalidArgument)
	}

	defer req.Release()

	if len(req.Executable) == 0 {
		return Handoff{}, fmt.Errorf("%w: no executable", mm.ErrInvalidArgument)
	}

	if t == nil || t.Space == nil {
		return Handoff{}, ErrNoTask
	}

	img, err := ParseImage(req.Executable)
	if err != nil {
		var hdrErr *HeaderError
		if errors.As(err, &hdrErr) {
			l.cfg.Logger.Error("Invalid executable", hdrErr.LogAttrs()...)
		}

		return Handoff{}, err
	}

	state := loadState{task: t, pages: l.pages}
	if t.Pages != nil {
		state.pages = t.Pages
	}

	for _, prog := range img.Progs {
		if err := l.loadProg(&state, img, prog); err != nil {
			return Handoff{}, err
		}
	}

	if state.heap == 0 {
		return Handoff{}, ErrNoHeap
	}

	heapStart := mm.PageFloor(state.heap)
	t.Heap = &mm.Region{
		Start: heapStart,
		End:   heapStart,
		Flags: mm.RegionHeap | mm.RegionUser,
	}

	if state.stack == 0 {
		return Handoff{}, ErrNoStack
	}

	if !state.marker {
		return Handoff{}, ErrNoMarker
	}

	stack, err := ustack.Build(ustack.Layout{
		Base:       state.stack,
		Size:       DefaultStackSize,
		Argc:       req.Argc,
		Envc:       req.Envc,
		Strings:    req.StringTable(),
		StringArea: MaxArgs,
	})
	if err != nil {
		return Handoff{}, fmt.Errorf("build stack: %w", err)
	}

	if err := t.Space.Write(stack.SP, stack.Data); err != nil {
		return Handoff{}, fmt.Errorf("write stack: %w", err)
	}

	view, err := ustack.Inspect(t.Space, stack.SP)
	if err != nil {
		return Handoff{}, fmt.Errorf("inspect stack: %w", err)
	}

	req.Release()

	// FPU state is not supported.
	t.ClearFlags(task.FlagFPUUsed | task.FlagFPUInit)

	l.mapKernelInfo(t)

	l.cfg.Logger.Debug("Task loaded",
		slog.Any("id", t.ID),
		slog.String("entry", fmt.Sprintf("%#x", img.Header.Entry)),
		slog.String("stack", fmt.Sprintf("%#x", stack.SP)))

	return Handoff{
		Entry: img.Header.Entry,
		Stack: stack.SP,
		View:  view,
	}, nil
}

type loadState struct {
	task   *task.Task
	pages  mm.PageAllocator
	heap   uint64
	stack  uint64
	marker bool
}

func (l *Loader) loadProg(state *loadState, img *Image, prog elf.Prog64) error {
	switch elf.ProgType(prog.Type) {
	case elf.PT_LOAD:
		if prog.Vaddr == 0 || prog.Memsz == 0 {
			return nil
		}

		return l.loadSegment(state, img, prog)
	case elf.PT_GNU_STACK:
		if state.stack != 0 {
			l.cfg.Logger.Warn("Ignore additional stack segment")
			return nil
		}

		return l.createStack(state, prog)
	case elf.PT_TLS:
		l.cfg.Logger.Info("Found TLS segment",
			slog.String("addr", fmt.Sprintf("%#x", prog.Vaddr)),
			slog.String("mem_size", fmt.Sprintf("%#x", prog.Memsz)),
			slog.String("file_size", fmt.Sprintf("%#x", prog.Filesz)))
	case elf.PT_NOTE:
		if img.HasMarker(prog, ABIMarker) {
			state.marker = true
		}
	default:
		l.cfg.Logger.Debug("Unknown type in program header",
			slog.String("type", fmt.Sprintf("%#x", prog.Type)))
	}

	return nil
}

func (l *Loader) loadSegment(state *loadState, img *Image, prog elf.Prog64) error {
	start := mm.PageFloor(prog.Vaddr)
	end := prog.Vaddr + prog.Memsz
	npages := mm.PageCount(end - start)

	flags := mm.PageUser
	if l.cfg.NX && elf.ProgFlag(prog.Flags)&elf.PF_X == 0 {
		flags |= mm.PageNoExec
	}

	if err := l.mapZeroed(state, start, npages, flags|mm.PageRW); err != nil {
		return fmt.Errorf("segment %#x: %w", prog.Vaddr, err)
	}

	state.heap = max(state.heap, end)

	if err := state.task.Space.Write(prog.Vaddr, img.Segment(prog)); err != nil {
		return fmt.Errorf("segment %#x: %w", prog.Vaddr, err)
	}

	if elf.ProgFlag(prog.Flags)&elf.PF_W == 0 {
		if err := state.task.Space.SetFlags(start, npages, flags); err != nil {
			return fmt.Errorf("segment %#x: %w", prog.Vaddr, err)
		}
	}

	l.register(state.task, start, start+npages*mm.PageSize,
		mm.RegionCacheable|mm.RegionUser|regionFlags(prog))

	return nil
}

func (l *Loader) createStack(state *loadState, prog elf.Prog64) error {
	npages := mm.PageCount(DefaultStackSize)

	flags := mm.PageUser | mm.PageRW
	if l.cfg.NX && elf.ProgFlag(prog.Flags)&elf.PF_X == 0 {
		flags |= mm.PageNoExec
	}

	if err := l.mapZeroed(state, StackAddress, npages, flags); err != nil {
		return fmt.Errorf("stack: %w", err)
	}

	state.stack = StackAddress

	l.register(state.task, StackAddress, StackAddress+npages*mm.PageSize,
		mm.RegionCacheable|mm.RegionUser|regionFlags(prog))

	return nil
}

func (l *Loader) mapZeroed(state *loadState, virt, npages uint64, flags mm.PageFlags) error {
	space := state.task.Space

	phys, err := state.pages.Request(npages)
	if err != nil {
		return fmt.Errorf("request %d pages: %w", npages, err)
	}

	if err := space.Map(virt, phys, npages, flags); err != nil {
		return fmt.Errorf("map %#x at %#x: %w", phys, virt, err)
	}

	if err := space.Zero(virt, npages*mm.PageSize); err != nil {
		return fmt.Errorf("clear %#x: %w", virt, err)
	}

	return nil
}

// mapKernelInfo maps the read-only kernel info page and the writable shared
// page below [StartAddress]. Failures are logged only.
func (l *Loader) mapKernelInfo(t *task.Task) {
	flags := mm.PageUser
	if l.cfg.NX {
		flags |= mm.PageNoExec
	}

	pages := []struct {
		name   string
		virt   uint64
		phys   uint64
		page   mm.PageFlags
		region mm.RegionFlags
	}{
		{
			name:   "kernel info",
			virt:   StartAddress - mm.PageSize,
			phys:   l.cfg.KernelInfo,
			page:   flags,
			region: mm.RegionRead | mm.RegionCacheable | mm.RegionUser,
		},
		{
			name:   "shared page",
			virt:   StartAddress - 2*mm.PageSize,
			phys:   l.cfg.SharedPage,
			page:   flags | mm.PageRW,
			region: mm.RegionRead | mm.RegionWrite | mm.RegionCacheable | mm.RegionUser,
		},
	}

	for _, page := range pages {
		if err := t.Space.Map(page.virt, page.phys, 1, page.page); err != nil {
			l.cfg.Logger.Warn("Failed to map "+page.name, slog.Any("error", err))
			continue
		}

		l.register(t, page.virt, page.virt+mm.PageSize, page.region)
	}
}

func (l *Loader) register(t *task.Task, start, end uint64, flags mm.RegionFlags) {
	if err := t.Regions.Register(start, end, flags); err != nil {
		l.cfg.Logger.Warn("Failed to register region",
			slog.Any("id", t.ID),
			slog.Any("error", err))
	}
}

func regionFlags(prog elf.Prog64) mm.RegionFlags {
	var flags mm.RegionFlags

	progFlags := elf.ProgFlag(prog.Flags)

	if progFlags&elf.PF_R != 0 {
		flags |= mm.RegionRead
	}

	if progFlags&elf.PF_W != 0 {
		flags |= mm.RegionWrite
	}

	if progFlags&elf.PF_X != 0 {
		flags |= mm.RegionExecute
	}

	return flags
}
