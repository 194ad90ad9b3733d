// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sigtrace

import (
	"strings"
	"syscall"
	"testing"

	"github.com/sigtrace/sigtrace/internal/snapshot"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.MaxFrames != 16 {
		t.Fatalf("MaxFrames = %d", c.MaxFrames)
	}
	if len(c.Signals) != 2 || c.Signals[0] != syscall.SIGSEGV || c.Signals[1] != syscall.SIGABRT {
		t.Fatalf("Signals = %v", c.Signals)
	}
	if !c.GenerateCoreDump || !c.CleanupOnExit || c.QuickExitOnCrash {
		t.Fatalf("termination defaults wrong: %+v", c)
	}
	if !c.FreezeAllThreads || !c.ColorOutput || !c.StripCommonRoot || !c.CollapseRelativePaths {
		t.Fatalf("report defaults wrong: %+v", c)
	}
	if c.AppendPID {
		t.Fatal("AppendPID should default off")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	data := []struct {
		name   string
		mutate func(*Config)
		errHas string
	}{
		{
			name:   "frames zero",
			mutate: func(c *Config) { c.MaxFrames = 0 },
			errHas: "MaxFrames",
		},
		{
			name:   "frames negative",
			mutate: func(c *Config) { c.MaxFrames = -3 },
			errHas: "MaxFrames",
		},
		{
			name:   "frames over bound",
			mutate: func(c *Config) { c.MaxFrames = MaxFrameBound + 1 },
			errHas: "MaxFrames",
		},
		{
			name:   "frames lower edge ok",
			mutate: func(c *Config) { c.MaxFrames = 1 },
		},
		{
			name:   "frames upper edge ok",
			mutate: func(c *Config) { c.MaxFrames = MaxFrameBound },
		},
		{
			name:   "no signals",
			mutate: func(c *Config) { c.Signals = nil },
			errHas: "signals",
		},
		{
			name:   "artifact dir too long",
			mutate: func(c *Config) { c.ArtifactDir = strings.Repeat("x", snapshot.MaxPath+1) },
			errHas: "ArtifactDir",
		},
	}
	for _, line := range data {
		line := line
		t.Run(line.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultConfig()
			line.mutate(&c)
			err := c.Validate()
			if line.errHas == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), line.errHas) {
				t.Fatalf("err = %v, want mention of %q", err, line.errHas)
			}
		})
	}
}
