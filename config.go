// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sigtrace

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/sigtrace/sigtrace/internal/snapshot"
)

// MaxFrameBound is the largest accepted Config.MaxFrames.
const MaxFrameBound = 100

// ErrInstalled is returned by Install when a handler is already active
// in this process. Crash handlers do not stack: the second installation
// would silently shadow the first, so it is refused instead.
var ErrInstalled = errors.New("a crash handler is already installed")

// Config controls what a crash report contains and how the process dies
// afterwards. It is validated and copied by New; changing a Config
// after that has no effect on the handler built from it.
type Config struct {
	// Signals lists the fatal signals to intercept.
	Signals []syscall.Signal

	// MaxFrames bounds the number of frames a report shows. Values
	// outside (0,MaxFrameBound] are rejected by Validate, not clamped.
	MaxFrames int

	// GenerateCoreDump ends the process by re-raising an abort with
	// default disposition after the report, so the kernel writes a core
	// file. Overrides CleanupOnExit.
	GenerateCoreDump bool
	// CleanupOnExit runs the hooks registered with RegisterCleanup
	// before exiting.
	CleanupOnExit bool
	// QuickExitOnCrash ends the process with the raw exit syscall,
	// skipping core dump and cleanups both.
	QuickExitOnCrash bool

	// FreezeAllThreads stops the entire process while the reporter
	// works, so no other thread can race the report or tear state down
	// mid-print. When false, only the crashing goroutine blocks.
	FreezeAllThreads bool

	// StripCommonRoot removes the working directory prefix from
	// reported source paths.
	StripCommonRoot bool
	// CollapseRelativePaths drops leading "../" runs from reported
	// source paths.
	CollapseRelativePaths bool
	// AppendPID annotates every frame line with the crashed process id.
	AppendPID bool
	// ColorOutput wraps function names, locations and identifiers in
	// ANSI colors. Off means not a single escape byte is emitted.
	ColorOutput bool

	// ArtifactDir, when non-empty, is an existing directory where the
	// reporter additionally saves the trace as a gzipped pprof
	// protobuf, one file per crash.
	ArtifactDir string
}

// DefaultConfig returns the classic defaults: segfaults and aborts
// reported in color with 16 frames, paths normalized, the whole process
// frozen during the report, and a core dump afterwards.
func DefaultConfig() Config {
	return Config{
		Signals:               []syscall.Signal{syscall.SIGSEGV, syscall.SIGABRT},
		MaxFrames:             16,
		GenerateCoreDump:      true,
		CleanupOnExit:         true,
		FreezeAllThreads:      true,
		StripCommonRoot:       true,
		CollapseRelativePaths: true,
		ColorOutput:           true,
	}
}

// Validate reports whether the configuration can be installed.
func (c *Config) Validate() error {
	if c.MaxFrames <= 0 || c.MaxFrames > MaxFrameBound {
		return fmt.Errorf("MaxFrames %d is outside (0,%d]", c.MaxFrames, MaxFrameBound)
	}
	if len(c.Signals) == 0 {
		return errors.New("no signals to handle")
	}
	if len(c.ArtifactDir) > snapshot.MaxPath {
		return fmt.Errorf("ArtifactDir exceeds %d bytes", snapshot.MaxPath)
	}
	return nil
}
