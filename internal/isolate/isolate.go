// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// Package isolate walks the crashed process through the freeze/resume
// protocol and the termination policy.
//
// The whole parent-side sequence is a small state machine:
//
//	Faulted → Forked → Reporting → {CoreDump, CleanExit, QuickExit, ForcedExit}
//
// A crash that cannot reach the reporter jumps from any state straight to
// a terminal one. The process-control syscalls sit behind Sys so tests
// can drive the machine with a fake.
package isolate

import (
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sys/unix"
)

// State names one step of the crash protocol.
type State uint8

const (
	// Faulted is the entry state: a fatal signal or trapped fault won the
	// in-flight election.
	Faulted State = iota
	// Forked means the reporter child has been started.
	Forked
	// Reporting covers the window in which the parent is frozen or
	// blocked while the child prints.
	Reporting
	// CoreDump: default disposition restored and the abort signal
	// re-raised, producing an OS core dump.
	CoreDump
	// CleanExit: registered cleanups ran, then exit 1.
	CleanExit
	// QuickExit: immediate raw process exit, skipping all teardown.
	QuickExit
	// ForcedExit: exit 1 without cleanups.
	ForcedExit
)

func (s State) String() string {
	switch s {
	case Faulted:
		return "faulted"
	case Forked:
		return "forked"
	case Reporting:
		return "reporting"
	case CoreDump:
		return "core-dump"
	case CleanExit:
		return "clean-exit"
	case QuickExit:
		return "quick-exit"
	case ForcedExit:
		return "forced-exit"
	}
	return "invalid"
}

// Terminal reports whether s ends the protocol.
func (s State) Terminal() bool {
	return s >= CoreDump
}

// Policy is the termination choice set, copied from the handler
// configuration when the fault fires.
type Policy struct {
	QuickExit bool
	CoreDump  bool
	Cleanup   bool
	Freeze    bool
}

// Decide returns the terminal state for p. Precedence is fixed:
// quick-exit beats core-dump beats clean exit beats forced exit.
func Decide(p Policy) State {
	switch {
	case p.QuickExit:
		return QuickExit
	case p.CoreDump:
		return CoreDump
	case p.Cleanup:
		return CleanExit
	}
	return ForcedExit
}

// Sys is the process-control surface the machine runs against. The real
// implementation never returns from the terminal calls.
type Sys interface {
	// StopSelf delivers a process-directed SIGSTOP, halting every thread
	// until the reporter sends SIGCONT.
	StopSelf()
	// ReapNonblock collects the child if it already exited, leaving no
	// zombie behind once the parent resumes.
	ReapNonblock(pid int)
	// RaiseCoreDump detaches the abort signal from any interception,
	// raises the runtime traceback level so the re-raise reaches the
	// default disposition, and aborts.
	RaiseCoreDump()
	// Exit is the ordinary process exit.
	Exit(code int)
	// ExitGroup is the raw exit syscall, bypassing runtime exit hooks.
	ExitGroup(code int)
}

// Machine tracks one crash through the protocol.
type Machine struct {
	state State
	sys   Sys
}

// NewMachine returns a machine in the Faulted state.
func NewMachine(sys Sys) *Machine {
	return &Machine{state: Faulted, sys: sys}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Forked records that the reporter child is running.
func (m *Machine) Forked() {
	m.state = Forked
}

// Report suspends the parent for the duration of the child's report.
//
// With freeze set, the parent stops all of its threads and is resumed by
// the child's SIGCONT once the report is out; the non-blocking reap then
// collects the already-exited child. Without freeze, only the calling
// goroutine blocks in wait; other goroutines keep running and may crash
// or exit first. That race is part of the fast mode's contract.
func (m *Machine) Report(freeze bool, childPid int, wait func() error) {
	m.state = Reporting
	if freeze {
		m.sys.StopSelf()
		m.sys.ReapNonblock(childPid)
		return
	}
	_ = wait()
}

// Terminate applies the policy and does not return when running against
// the real Sys. cleanups runs only on the CleanExit branch.
func (m *Machine) Terminate(p Policy, cleanups func()) {
	m.state = Decide(p)
	switch m.state {
	case QuickExit:
		m.sys.ExitGroup(1)
	case CoreDump:
		m.sys.RaiseCoreDump()
	case CleanExit:
		if cleanups != nil {
			cleanups()
		}
		m.sys.Exit(1)
	default:
		m.sys.Exit(1)
	}
}

// osSys is the real syscall surface.
type osSys struct{}

// OS returns the Sys used outside of tests.
func OS() Sys {
	return osSys{}
}

func (osSys) StopSelf() {
	_ = unix.Kill(unix.Getpid(), unix.SIGSTOP)
}

func (osSys) ReapNonblock(pid int) {
	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
}

func (osSys) RaiseCoreDump() {
	// Reset undoes every Notify subscription for SIGABRT, ours included,
	// so the re-raise lands on the runtime. The crash traceback level
	// makes the runtime die by re-raising with default disposition, which
	// is what actually produces the core file.
	signal.Reset(syscall.SIGABRT)
	debug.SetTraceback("crash")
	_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
	// Not reached once the signal is delivered.
	os.Exit(1)
}

func (osSys) Exit(code int) {
	os.Exit(code)
}

func (osSys) ExitGroup(code int) {
	unix.Exit(code)
}
