// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package sigtrace

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sigtrace/sigtrace/internal/isolate"
	"github.com/sigtrace/sigtrace/internal/report"
	"github.com/sigtrace/sigtrace/internal/safefmt"
	"github.com/sigtrace/sigtrace/internal/snapshot"
)

// installed guards the process-wide signal dispositions. One handler at
// a time; see ErrInstalled.
var installed atomic.Bool

// Skip counts for runtime.Callers as invoked from snapshotNow: the
// captured stack must start at the frame the report should lead with.
const (
	// Past Callers, snapshotNow, crash and Trap's deferred function.
	// The panic dispatch frames that follow are trimmed by the
	// reporter, which can resolve their names.
	trapSkip = 4
	// Past Callers, snapshotNow, crash and Abort: the first frame is
	// Abort's caller.
	abortSkip = 4
	// An externally delivered signal has no user frame to lead with, so
	// the watcher stays visible.
	watchSkip = 3
)

// captureSlack is extra capture room beyond the display bound. It covers
// the longest panic dispatch chain the reporter trims off the head of a
// trace, so a trimmed trace can still fill the display bound.
const captureSlack = snapshot.MaxPCs - MaxFrameBound

// Handler owns the crash reporting machinery for one installation.
type Handler struct {
	cfg Config
	exe string
	pid int

	mu        sync.Mutex
	sigCh     chan os.Signal
	done      chan struct{}
	cleanups  []func()
	reporting bool

	cmd   *exec.Cmd
	pipeR *os.File
	pipeW *os.File

	// Crash-time state, laid out at install time so capturing and
	// encoding a crash allocates nothing.
	snap snapshot.Snapshot
	pcs  [snapshot.MaxPCs]uintptr
	buf  [snapshot.BufSize]byte
}

// New validates cfg and prepares a handler. The process is untouched
// until Install.
func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Signals = append([]syscall.Signal(nil), cfg.Signals...)
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve own executable: %w", err)
	}
	if len(exe) > snapshot.MaxPath {
		return nil, fmt.Errorf("executable path exceeds %d bytes", snapshot.MaxPath)
	}
	return &Handler{cfg: cfg, exe: exe, pid: os.Getpid()}, nil
}

// Install arms the reporter, subscribes to the configured signals and
// starts the watcher goroutine. In a reporter child process Install
// never returns: it runs the report and exits.
func (h *Handler) Install() error {
	if os.Getenv(report.ReporterEnv) == "1" {
		os.Exit(report.Main())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sigCh != nil {
		return ErrInstalled
	}
	if !installed.CompareAndSwap(false, true) {
		return ErrInstalled
	}
	if err := h.arm(); err != nil {
		installed.Store(false)
		return err
	}

	ch := make(chan os.Signal, len(h.cfg.Signals))
	sigs := make([]os.Signal, len(h.cfg.Signals))
	for i, s := range h.cfg.Signals {
		sigs[i] = s
	}
	signal.Notify(ch, sigs...)
	h.sigCh = ch
	h.done = make(chan struct{})
	go h.watch(ch, h.done)
	return nil
}

// Uninstall stops routing the configured signals to this handler and
// disarms the reporter. The dispositions observed before Install are
// back in force afterwards.
func (h *Handler) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sigCh == nil {
		return
	}
	signal.Stop(h.sigCh)
	close(h.done)
	h.pipeR.Close()
	h.pipeW.Close()
	h.sigCh = nil
	h.done = nil
	h.cmd = nil
	installed.Store(false)
}

// RegisterCleanup adds f to the hooks the cleanup exit path runs after
// the report, last registered first.
func (h *Handler) RegisterCleanup(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, f)
}

// Trap arms the calling goroutine for synchronous faults, which the
// runtime turns into panics rather than deliverable signals, and
// returns the function to defer:
//
//	defer h.Trap()()
//
// The deferred function reports a fault panic as a crash; it is a
// no-op on a normal return, and any other panic continues unwinding.
func (h *Handler) Trap() func() {
	old := debug.SetPanicOnFault(true)
	return func() {
		v := recover()
		debug.SetPanicOnFault(old)
		if v == nil {
			return
		}
		if sig, ok := faultSignal(v); ok {
			h.crash(sig, trapSkip)
		}
		panic(v)
	}
}

// Abort reports a deliberate abnormal termination attributed to the
// caller and ends the process under the configured policy. It does not
// return; without an installed handler it falls through to a plain
// abort.
func (h *Handler) Abort() {
	if !h.crash(syscall.SIGABRT, abortSkip) {
		isolate.OS().RaiseCoreDump()
	}
}

// watch routes asynchronously delivered signals into the crash path.
func (h *Handler) watch(ch chan os.Signal, done chan struct{}) {
	for {
		select {
		case s := <-ch:
			if sig, ok := s.(syscall.Signal); ok {
				h.crash(sig, watchSkip)
			}
		case <-done:
			return
		}
	}
}

// arm prepares everything the crash path needs ahead of time: the
// unstarted reporter command, its snapshot pipe and the snapshot
// scaffolding.
func (h *Handler) arm() error {
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	// The re-exec goes through /proc/self/exe so the reporter runs this
	// exact binary even if the file was moved or replaced since start.
	cmd := exec.Command("/proc/self/exe")
	cmd.Stdin = r
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), report.ReporterEnv+"=1")
	h.cmd, h.pipeR, h.pipeW = cmd, r, w

	var opts uint8
	if h.cfg.ColorOutput {
		opts |= snapshot.OptColor
	}
	if h.cfg.AppendPID {
		opts |= snapshot.OptAppendPid
	}
	if h.cfg.StripCommonRoot {
		opts |= snapshot.OptStripCommonRoot
	}
	if h.cfg.CollapseRelativePaths {
		opts |= snapshot.OptCollapseRelative
	}
	if h.cfg.FreezeAllThreads {
		opts |= snapshot.OptFreeze
	}
	h.snap = snapshot.Snapshot{
		PID:         h.pid,
		Options:     opts,
		MaxFrames:   h.cfg.MaxFrames,
		ExePath:     h.exe,
		ArtifactDir: h.cfg.ArtifactDir,
	}
	return nil
}

// crash runs the parent side of a crash: capture, hand off to the
// reporter, suspend, terminate. It returns false when the handler is
// not armed; otherwise it does not return at all.
func (h *Handler) crash(sig syscall.Signal, skip int) bool {
	h.mu.Lock()
	if h.sigCh == nil {
		h.mu.Unlock()
		return false
	}
	if h.reporting {
		h.mu.Unlock()
		// Another goroutine owns the crash. Park until it ends the
		// process; running on would race the report.
		select {}
	}
	h.reporting = true
	// The lock stays held: the process is past saving and anyone else
	// contending for it dies with us.

	n, err := h.snapshotNow(sig, skip)
	m := isolate.NewMachine(isolate.OS())
	p := h.policy()
	if err != nil || len(h.snap.PCs) == 0 {
		// Not even a raw stack. Nothing to report; die by policy with
		// the core dump forced on so the crash leaves some trace.
		p.CoreDump = true
		m.Terminate(p, h.runCleanups)
	}

	// The snapshot goes down the pipe before the child starts; it fits
	// the pipe buffer, so the child finds it complete whenever it runs.
	if _, werr := h.pipeW.Write(h.buf[:n]); werr != nil {
		m.Terminate(p, h.runCleanups)
	}
	h.pipeW.Close()
	if serr := h.cmd.Start(); serr != nil {
		safefmt.Write(safefmt.Stderr, []byte("cannot start the crash reporter\n"))
		m.Terminate(p, h.runCleanups)
	}
	h.pipeR.Close()

	m.Forked()
	m.Report(p.Freeze, h.cmd.Process.Pid, h.cmd.Wait)
	m.Terminate(p, h.runCleanups)
	return true
}

// snapshotNow captures the stack and encodes the crash into h.buf.
// Separate from crash so tests can hold it to zero allocations.
//
//go:noinline
func (h *Handler) snapshotNow(sig syscall.Signal, skip int) (int, error) {
	n := runtime.Callers(skip, h.pcs[:h.cfg.MaxFrames+captureSlack])
	h.snap.Sig = int(sig)
	h.snap.TID = unix.Gettid()
	h.snap.PCs = h.pcs[:n]
	return h.snap.EncodeTo(h.buf[:])
}

func (h *Handler) policy() isolate.Policy {
	return isolate.Policy{
		QuickExit: h.cfg.QuickExitOnCrash,
		CoreDump:  h.cfg.GenerateCoreDump,
		Cleanup:   h.cfg.CleanupOnExit,
		Freeze:    h.cfg.FreezeAllThreads,
	}
}

func (h *Handler) runCleanups() {
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		h.cleanups[i]()
	}
}

// faultSignal classifies a recovered panic value, mapping the panics
// the runtime raises for hardware faults back to their signals.
func faultSignal(v any) (syscall.Signal, bool) {
	err, ok := v.(runtime.Error)
	if !ok {
		return 0, false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid memory address"),
		strings.Contains(msg, "unexpected fault address"):
		return syscall.SIGSEGV, true
	case strings.Contains(msg, "integer divide by zero"):
		return syscall.SIGFPE, true
	}
	return 0, false
}
