// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// Package report implements the reporter side of a crash: the child
// process that receives a snapshot of the crashed parent, symbolizes
// the captured stack and prints the trace to stderr, one unbuffered
// line at a time.
package report

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sigtrace/sigtrace/internal/safefmt"
	"github.com/sigtrace/sigtrace/internal/snapshot"
	"github.com/sigtrace/sigtrace/internal/symbolize"
)

// Environment variables wiring the re-executed reporter child to the
// handler that spawned it.
const (
	// ReporterEnv marks a process as the reporter child. The handler
	// sets it on the re-exec; installation never returns in a process
	// that has it.
	ReporterEnv = "SIGTRACE_REPORTER"
	// DebugEnv enables reporter diagnostics on stderr. They interleave
	// with the report, so this is strictly a debugging aid.
	DebugEnv = "SIGTRACE_DEBUG"
)

// Main runs the reporter: it reads the crash snapshot from stdin,
// prints the symbolized trace, saves the artifact if one was asked for,
// resumes the frozen parent and returns the process exit code.
func Main() int {
	log := logrus.New()
	log.SetOutput(io.Discard)
	if os.Getenv(DebugEnv) == "1" {
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.DebugLevel)
	}

	// Anything the crashed program or a wayward library prints during
	// the report should land on stderr with it.
	if err := unix.Dup3(int(os.Stderr.Fd()), int(os.Stdout.Fd()), 0); err != nil {
		safefmt.Write(safefmt.Stderr, []byte("Failed to redirect stdout to stderr\n"))
	}

	snap, err := snapshot.Read(os.Stdin)
	if err != nil {
		log.WithError(err).Error("unreadable crash snapshot")
		return 1
	}
	log.WithFields(logrus.Fields{
		"pid":    snap.PID,
		"signal": snap.Sig,
		"frames": len(snap.PCs),
	}).Debug("snapshot received")
	return run(log, snap)
}

func run(log *logrus.Logger, snap *snapshot.Snapshot) int {
	res, err := symbolize.New(snap.PID, snap.ExePath)
	if err != nil {
		log.WithError(err).Warn("symbolizer degraded")
	}
	defer res.Close()

	pcs := trimRuntimeHead(res, snap.PCs)
	if len(pcs) > snap.MaxFrames {
		pcs = pcs[:snap.MaxFrames]
	}

	wd, _ := os.Getwd()
	if wd != "" && !strings.HasSuffix(wd, "/") {
		wd += "/"
	}
	f := &Formatter{
		PID:       snap.PID,
		AppendPID: snap.Has(snapshot.OptAppendPid),
		WorkDir:   wd,
		StripRoot: snap.Has(snapshot.OptStripCommonRoot),
		Collapse:  snap.Has(snapshot.OptCollapseRelative),
	}
	if snap.Has(snapshot.OptColor) {
		f.Palette = DefaultPalette
	}

	// Each frame resolves and prints before the next one starts, so a
	// resolver that hangs still leaves a partial report behind.
	write := func(s string) { safefmt.Write(safefmt.Stderr, []byte(s)) }
	sig := syscall.Signal(snap.Sig)
	write(f.Header(SignalLabel(sig), snap.TID))
	frames := make([]symbolize.Frame, 0, len(pcs))
	for _, pc := range pcs {
		fr := res.Resolve(pc)
		frames = append(frames, fr)
		if fr.Func == "" {
			write(f.FallbackLine(fr.ImageOffset, fr.Image))
			continue
		}
		write(f.FuncLine(fr.Func))
		if fr.File != "" {
			write(f.LocLine(fr.File, fr.Line))
		} else {
			write(f.LocFromImage(fr.Image, fr.ImageOffset))
		}
	}

	// The artifact lands before the parent is resumed so it exists by
	// the time any cleanup or exit logic over there can look for it.
	if snap.ArtifactDir != "" {
		if path, err := WriteArtifact(snap.ArtifactDir, sig, frames, time.Now()); err != nil {
			log.WithError(err).Warn("could not save crash artifact")
		} else {
			log.WithField("path", path).Debug("crash artifact saved")
		}
	}

	if snap.Has(snapshot.OptFreeze) {
		unix.Kill(snap.PID, unix.SIGCONT)
	}
	return 0
}

// funcNamer is the slice of the symbolizer the head trim needs.
type funcNamer interface {
	FuncName(pc uintptr) string
}

// trimRuntimeHead drops the panic-dispatch frames the Go runtime pushes
// between a memory fault and the function that caused it, so the first
// printed frame is the faulting one. The set covers the defer dispatch
// variants of the runtimes in support. A doubled top frame is folded
// into one.
func trimRuntimeHead(names funcNamer, pcs []uintptr) []uintptr {
	for len(pcs) > 0 {
		switch names.FuncName(pcs[0]) {
		case "runtime.gopanic", "runtime.panicmem", "runtime.panicmemAddr",
			"runtime.panicdivide", "runtime.sigpanic", "runtime.deferCallSave",
			"runtime.deferreturn", "runtime.runOpenDeferFrame":
			pcs = pcs[1:]
		default:
			// Some runtimes record the faulting frame twice.
			if len(pcs) > 1 && pcs[0] == pcs[1] {
				pcs = pcs[1:]
			}
			return pcs
		}
	}
	return pcs
}
