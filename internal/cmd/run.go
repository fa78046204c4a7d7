// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"

	"github.com/aibor/usertask/internal/exitcode"
	"github.com/aibor/usertask/internal/image"
	"github.com/aibor/usertask/internal/machine"
	"github.com/aibor/usertask/internal/spawn"
)

// IO provides input and output details for the command.
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
}

func mergedArgs(args []string) ([]string, error) {
	return MergedArgs(args, os.DirFS("."), localConfigFile)
}

// RunDaemon is the main entry point for the spawnd command.
func RunDaemon(ctx context.Context, args []string, cfg IO) int {
	args, err := mergedArgs(args)
	if err != nil {
		return handleParseArgsError(err)
	}

	flags, err := parseDaemonArgs(args, cfg.Stderr)
	if err != nil {
		return handleParseArgsError(err)
	}

	logger := setupLogging(cfg.Stderr, flags.Debug)

	if flags.Version {
		return printVersion(cfg.Stdout)
	}

	if err := runDaemon(ctx, flags, cfg, logger); err != nil {
		logger.Error(err.Error())
		return -1
	}

	return 0
}

func runDaemon(ctx context.Context, flags *daemonFlags, cfg IO, logger *slog.Logger) error {
	m, err := machine.New(machine.Config{
		Cores:      int(flags.Cores),
		MemorySize: flags.Memory << 20,
		NX:         flags.NX,
		Logger:     logger,
		OnUserEntry: func(state machine.UserEntry) int {
			printUserEntry(cfg.Stdout, state)
			return 0
		},
	})
	if err != nil {
		return fmt.Errorf("machine: %w", err)
	}

	var listenConfig net.ListenConfig

	listener, err := listenConfig.Listen(ctx, "tcp", flags.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("Accepting spawn requests",
		slog.String("addr", listener.Addr().String()),
		slog.Uint64("cores", flags.Cores),
		slog.Uint64("memory", flags.Memory))

	if err := m.Serve(ctx, listener, int(flags.MaxConns)); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

func printUserEntry(w io.Writer, state machine.UserEntry) {
	if state.Err != nil {
		fmt.Fprintf(w, "task %d: entry %#x stack %#x: %v\n",
			state.Task, state.Entry, state.Stack, state.Err)

		return
	}

	fmt.Fprintf(w, "task %d: core %d entry %#x stack %#x argv %q\n",
		state.Task, state.Core, state.Entry, state.Stack, state.View.Argv)
}

// RunClient is the main entry point for the spawn command. It returns the
// exit code of the spawned task.
func RunClient(ctx context.Context, args []string, cfg IO) int {
	args, err := mergedArgs(args)
	if err != nil {
		return handleParseArgsError(err)
	}

	flags, err := parseClientArgs(args, cfg.Stderr)
	if err != nil {
		return handleParseArgsError(err)
	}

	logger := setupLogging(cfg.Stderr, flags.Debug)

	if flags.Version {
		return printVersion(cfg.Stdout)
	}

	code, err := runClient(ctx, flags, cfg, logger)
	if err != nil {
		return handleRunError(logger, err)
	}

	return code
}

func runClient(ctx context.Context, flags *clientFlags, cfg IO, logger *slog.Logger) (int, error) {
	exe, err := image.Load(flags.Archive, flags.Args[0])
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	if err := image.Validate(exe); err != nil {
		return 0, fmt.Errorf("validate %s: %w", flags.Args[0], err)
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", flags.Addr)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	logger.Debug("Sending spawn request",
		slog.String("addr", flags.Addr),
		slog.Any("args", flags.Args),
		slog.Int("executable", len(exe)))

	if err := spawn.WriteRequest(conn, flags.Args, exe); err != nil {
		return 0, err //nolint:wrapcheck
	}

	code, err := exitcode.Scan(conn, func(line string) {
		fmt.Fprintln(cfg.Stdout, line)
	})
	if err != nil {
		return 0, fmt.Errorf("wait for exit code: %w", err)
	}

	logger.Debug("Task exited", slog.Int("code", code))

	return code, nil
}

func handleParseArgsError(err error) int {
	// [ErrHelp] is returned when help is requested. So exit without error
	// in this case.
	if errors.Is(err, ErrHelp) {
		return 0
	}

	// Parsing already prints errors, so we just exit without an error.
	if !errors.Is(err, &ParseArgsError{}) {
		slog.Error(err.Error())
	}

	return -1
}

func handleRunError(logger *slog.Logger, err error) int {
	if errors.Is(err, exitcode.ErrNotFound) {
		logger.Warn("Connection closed without exit code, spawn failed on the server")
	}

	logger.Error(err.Error())

	return -1
}

func printVersion(w io.Writer) int {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		slog.Error(ErrReadBuildInfo.Error())
		return -1
	}

	fmt.Fprintf(w, "Version: %s\n", buildInfo.Main.Version)

	return 0
}
