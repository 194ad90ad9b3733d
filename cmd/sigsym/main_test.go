// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sigtrace/sigtrace/internal/report"
	"github.com/sigtrace/sigtrace/internal/symbolize"
)

func TestCollectAddrsArgs(t *testing.T) {
	addrs, err := collectAddrs([]string{"0x10", "DEAD", "0X2a"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{0x10, 0xDEAD, 0x2A}, addrs); diff != "" {
		t.Fatal(diff)
	}
	if _, err = collectAddrs([]string{"zzz"}, nil); err == nil {
		t.Fatal("expected an error for a non-address argument")
	}
}

func TestCollectAddrsStdin(t *testing.T) {
	// A saved report. Only 0x prefixed tokens count as addresses; pids
	// and line numbers stay out.
	in := strings.NewReader(
		"Segmentation fault (thread 17, pid 42)\n" +
			"Stack trace:\n" +
			"[main.run]\n" +
			"main.go:12\n" +
			"0x7F32 at /usr/lib/libfoo.so\n" +
			"0xDEADBEEF at /bin/app\n")
	addrs, err := collectAddrs(nil, in)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{0x7F32, 0xDEADBEEF}, addrs); diff != "" {
		t.Fatal(diff)
	}
}

func TestEmit(t *testing.T) {
	f := &report.Formatter{}
	data := []struct {
		name string
		fr   symbolize.Frame
		want string
	}{
		{
			"resolved",
			symbolize.Frame{Func: "main.run", File: "/src/main.go", Line: 10},
			"[main.run]\n/src/main.go:10\n",
		},
		{
			"no file",
			symbolize.Frame{Func: "main.run", Image: "/bin/app", ImageOffset: 0xABC},
			"[main.run]\n/bin/app:0xABC\n",
		},
		{
			"unresolved",
			symbolize.Frame{Image: "/bin/app", ImageOffset: 0xABC},
			"0xABC at /bin/app\n",
		},
	}
	for _, line := range data {
		buf := bytes.Buffer{}
		emit(&buf, f, line.fr)
		if got := buf.String(); got != line.want {
			t.Fatalf("%s: %q != %q", line.name, line.want, got)
		}
	}
}
