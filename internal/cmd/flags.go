// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"flag"
	"fmt"
	"io"

	"github.com/aibor/usertask/internal/spawn"
)

const (
	daemonName = "spawnd"
	clientName = "spawn"

	defaultAddr = "127.0.0.1:7777"

	coresDefault = 1
	coresMin     = 1
	coresMax     = 64

	memDefault = 64
	memMin     = 4
	memMax     = 16384

	connsDefault = spawn.DefaultMaxConns
	connsMin     = 1
	connsMax     = 1024

	daemonUsage = `Usage of 'spawnd':
    spawnd [flags...]

Runs a simulated machine that accepts spawn requests and starts the received
executables as user tasks.

All flags can also be provided via environment variable USERTASK_ARGS or via
file ./.usertask-args, with one argument per line.
`

	clientUsage = `Usage of 'spawn':
    spawn [flags...] executable [args...]

Sends the executable and its arguments to a spawn server and waits for the
exit code of the task. The executable path is the program's first argument.

All flags can also be provided via environment variable USERTASK_ARGS or via
file ./.usertask-args, with one argument per line.
`
)

type commonFlags struct {
	flagSet *flag.FlagSet
	usage   string

	Debug   bool
	Version bool
}

func (f *commonFlags) init(name, usage string, output io.Writer) {
	f.usage = usage
	f.flagSet = flag.NewFlagSet(name, flag.ContinueOnError)
	f.flagSet.SetOutput(output)
	f.flagSet.Usage = f.printUsage

	f.flagSet.BoolVar(
		&f.Debug,
		"debug",
		f.Debug,
		"enable debug output",
	)

	f.flagSet.BoolVar(
		&f.Version,
		"version",
		f.Version,
		"show version and exit",
	)
}

func (f *commonFlags) parse(args []string) error {
	if err := f.flagSet.Parse(args); err != nil {
		return &ParseArgsError{msg: "flag parse", err: err}
	}

	return nil
}

// fail fails like flag does. It prints the error first and then usage.
func (f *commonFlags) fail(msg string, err error) error {
	err = &ParseArgsError{msg: msg, err: err}
	fmt.Fprintln(f.flagSet.Output(), err.Error())

	f.flagSet.Usage()

	return err
}

func (f *commonFlags) printUsage() {
	fmt.Fprint(f.flagSet.Output(), f.usage)
	fmt.Fprintln(f.flagSet.Output(), "\nFlags:")
	f.flagSet.PrintDefaults()
}

type daemonFlags struct {
	commonFlags

	Listen   string
	Cores    uint64
	Memory   uint64
	NX       bool
	MaxConns uint64
}

func parseDaemonArgs(args []string, output io.Writer) (*daemonFlags, error) {
	flags := &daemonFlags{
		Listen:   defaultAddr,
		Cores:    coresDefault,
		Memory:   memDefault,
		NX:       true,
		MaxConns: connsDefault,
	}

	flags.init(daemonName, daemonUsage, output)

	flags.flagSet.StringVar(
		&flags.Listen,
		"listen",
		flags.Listen,
		"TCP address to accept spawn requests on",
	)

	flags.flagSet.Var(
		&LimitedUintValue{
			Value: &flags.Cores,
			Lower: coresMin,
			Upper: coresMax,
		},
		"cores",
		"number of simulated cores",
	)

	flags.flagSet.Var(
		&LimitedUintValue{
			Value: &flags.Memory,
			Lower: memMin,
			Upper: memMax,
		},
		"memory",
		"simulated physical memory (in MiB)",
	)

	flags.flagSet.BoolVar(
		&flags.NX,
		"nx",
		flags.NX,
		"simulate CPUs supporting the execute disable page flag",
	)

	flags.flagSet.Var(
		&LimitedUintValue{
			Value: &flags.MaxConns,
			Lower: connsMin,
			Upper: connsMax,
		},
		"max-conns",
		"number of spawn connections handled at once",
	)

	if err := flags.parse(args); err != nil {
		return nil, err
	}

	if flags.Version {
		return flags, nil
	}

	if flags.flagSet.NArg() > 0 {
		return nil, flags.fail("unexpected arguments", nil)
	}

	if flags.Listen == "" {
		return nil, flags.fail("no listen address given (use -listen)", nil)
	}

	return flags, nil
}

type clientFlags struct {
	commonFlags

	Addr    string
	Archive string
	// Args are the program arguments. The first one is the executable.
	Args []string
}

func parseClientArgs(args []string, output io.Writer) (*clientFlags, error) {
	flags := &clientFlags{
		Addr: defaultAddr,
	}

	flags.init(clientName, clientUsage, output)

	flags.flagSet.StringVar(
		&flags.Addr,
		"addr",
		flags.Addr,
		"TCP address of the spawn server",
	)

	flags.flagSet.StringVar(
		&flags.Archive,
		"archive",
		flags.Archive,
		"cpio archive the executable is read from (executable is a member path then)",
	)

	// Parses arguments up to the first one that is not prefixed with a "-" or
	// is "--".
	if err := flags.parse(args); err != nil {
		return nil, err
	}

	if flags.Version {
		return flags, nil
	}

	if flags.Addr == "" {
		return nil, flags.fail("no server address given (use -addr)", nil)
	}

	flags.Args = flags.flagSet.Args()

	// First positional argument is supposed to be the executable.
	if len(flags.Args) < 1 || flags.Args[0] == "" {
		return nil, flags.fail("no executable given", nil)
	}

	return flags, nil
}
