// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sigtrace prints a symbolized stack trace on stderr when the
// process takes a fatal signal, then terminates it under a configurable
// policy: quick exit, core dump, cleanup hooks plus exit, or a forced
// exit.
//
// The report is produced outside the crashed process. At install time
// the handler arms a reporter: a re-execution of the current binary
// with a snapshot pipe on stdin. When a crash fires, the handler
// captures the stack without allocating, feeds the snapshot to the
// reporter child and either freezes the whole process until the child
// has printed (the default) or blocks only the crashing goroutine. The
// child resolves each frame against the live process and prints one
// line at a time, so even a truncated report is usable.
//
// Install must run early in main. In the reporter child it never
// returns; everything before it runs in both processes.
//
//	func main() {
//		h, err := sigtrace.New(sigtrace.DefaultConfig())
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err = h.Install(); err != nil {
//			log.Fatal(err)
//		}
//		defer h.Uninstall()
//
//		run()
//	}
//
// Synchronous faults such as a nil dereference surface in Go as runtime
// panics, not deliverable signals, so goroutines that want them
// reported hold a trap:
//
//	func run() {
//		defer h.Trap()()
//		// ...
//	}
//
// Only Linux is supported.
package sigtrace
