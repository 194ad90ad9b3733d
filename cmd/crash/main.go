// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// crash dies from fatal signals in various ways.
//
// It is a tool to exercise sigtrace end to end; the integration tests
// drive it and assert on its stderr. Each scenario announces PID= and,
// where a source position is checkable, CRASHFILE= and CRASHLINE=
// before faulting.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/sigtrace/sigtrace"
)

var handler *sigtrace.Handler

// Crash helpers. Named functions rather than closures so the reports
// carry predictable frame names.

// crashSite prints where the fault just below it lives.
func crashSite() {
	if _, file, line, ok := runtime.Caller(1); ok {
		fmt.Fprintf(os.Stderr, "CRASHFILE=%s\nCRASHLINE=%d\n", file, line)
	}
}

func segvHere() {
	crashSite()
	var p *uint64
	*p = 0x2A
}

func segvDeep(n int) {
	if n > 0 {
		segvDeep(n - 1)
		return
	}
	crashSite()
	var p *int32
	*p = 1
}

func divZeroHere() {
	crashSite()
	zero := 0
	fmt.Fprintln(io.Discard, 1/zero)
}

func abortNow() {
	crashSite()
	handler.Abort()
}

//

// types is all the supported ways to die.
//
// Keep the list sorted.
var types = map[string]struct {
	desc string
	f    func()
}{
	"abort": {
		"deliberate abnormal termination through the handler",
		func() {
			abortNow()
		},
	},

	"clean": {
		"install, do nothing, uninstall; no report expected",
		func() {},
	},

	"deep": {
		"nil pointer write at the bottom of a 30 call recursion",
		func() {
			defer handler.Trap()()
			segvDeep(30)
		},
	},

	"divzero": {
		"integer division by zero under a trap",
		func() {
			defer handler.Trap()()
			divZeroHere()
		},
	},

	"kill-segv": {
		"externally delivered segmentation fault signal",
		func() {
			if err := syscall.Kill(os.Getpid(), syscall.SIGSEGV); err != nil {
				fmt.Fprintf(os.Stderr, "kill: %v\n", err)
				os.Exit(1)
			}
			time.Sleep(10 * time.Second)
		},
	},

	"segv": {
		"nil pointer write under a trap",
		func() {
			defer handler.Trap()()
			segvHere()
		},
	},

	"uninstalled": {
		"nil pointer write after the handler is removed; the runtime reports",
		func() {
			handler.Uninstall()
			segvHere()
		},
	},
}

//

func main() {
	frames := flag.Int("frames", 16, "maximum frames to print")
	color := flag.Bool("color", false, "colorize the report")
	pid := flag.Bool("pid", false, "append the pid to every frame line")
	core := flag.Bool("core", false, "generate a core dump after the report")
	cleanup := flag.Bool("cleanup", false, "run cleanup hooks after the report")
	quick := flag.Bool("quickexit", false, "terminate through quick exit")
	nofreeze := flag.Bool("nofreeze", false, "do not stop the whole process during the report")
	artifacts := flag.String("artifacts", "", "directory for crash artifacts")
	flag.Usage = usage
	flag.Parse()

	cfg := sigtrace.DefaultConfig()
	cfg.MaxFrames = *frames
	cfg.ColorOutput = *color
	cfg.AppendPID = *pid
	cfg.GenerateCoreDump = *core
	cfg.CleanupOnExit = *cleanup
	cfg.QuickExitOnCrash = *quick
	cfg.FreezeAllThreads = !*nofreeze
	cfg.ArtifactDir = *artifacts

	h, err := sigtrace.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crash: %v\n", err)
		os.Exit(2)
	}
	handler = h
	if err = h.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "crash: %v\n", err)
		os.Exit(2)
	}
	defer h.Uninstall()

	// Always registered; whether it runs is the policy's call.
	h.RegisterCleanup(func() { fmt.Fprintln(os.Stderr, "CLEANUP=done") })

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	if name == "dump_commands" {
		for _, n := range sortedTypes() {
			fmt.Println(n)
		}
		return
	}
	s, ok := types[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown crash style %q\n", name)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "PID=%d\n", os.Getpid())
	s.f()
	if name != "clean" {
		// Every other scenario should not have come back.
		os.Exit(3)
	}
}

func usage() {
	io.WriteString(os.Stderr, "usage: crash [flags] <way>\n\nWays to die:\n")
	m := 0
	names := sortedTypes()
	for _, n := range names {
		if len(n) > m {
			m = len(n)
		}
	}
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "- %-*s  %s\n", m, n, types[n].desc)
	}
	flag.PrintDefaults()
}

func sortedTypes() []string {
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
