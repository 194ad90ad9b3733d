// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package internaltest builds and runs the crash scenario program for
// integration tests.
package internaltest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

var (
	crashOnce sync.Once
	crashPath string
)

// BuildCrash compiles the crash scenario program once per test process
// and returns its path, or "" if compilation failed.
func BuildCrash() string {
	crashOnce.Do(func() {
		p := filepath.Join(os.TempDir(), fmt.Sprintf("sigtrace_crash_%d", os.Getpid()))
		if err := Compile("github.com/sigtrace/sigtrace/cmd/crash", p); err != nil {
			_, _ = os.Stderr.WriteString(err.Error() + "\n")
			return
		}
		crashPath = p
	})
	return crashPath
}

// RemoveCrash deletes the compiled scenario program. Meant for
// TestMain.
func RemoveCrash() {
	if crashPath != "" {
		_ = os.Remove(crashPath)
	}
}

// Compile builds the package path in into the executable exe. Inlining
// is disabled so the frames crash scenarios capture do not depend on
// the build environment.
func Compile(in, exe string) error {
	c := exec.Command("go", "build", "-o", exe, "-gcflags", "-l", in)
	if out, err := c.CombinedOutput(); err != nil {
		return fmt.Errorf("compile failure: %w\n%s", err, out)
	}
	return nil
}

// Run executes one crash scenario and returns its combined output and
// final process state. Scenarios are expected to die, so a nonzero
// exit is not an error here; a process that outlives the timeout is
// killed and comes back with the state saying so. dir, when non-empty,
// becomes the scenario's working directory so core files land
// somewhere disposable.
func Run(exe, dir string, timeout time.Duration, args ...string) ([]byte, *os.ProcessState) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	c := exec.CommandContext(ctx, exe, args...)
	c.Dir = dir
	out, _ := c.CombinedOutput()
	return out, c.ProcessState
}
