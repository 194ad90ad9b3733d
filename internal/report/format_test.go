// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"strings"
	"testing"
)

var testPalette = Palette{
	EOLReset: "A",
	Label:    "B",
	ID:       "C",
	Func:     "D",
	LineNo:   "E",
	Addr:     "F",
}

func TestHeader(t *testing.T) {
	t.Parallel()
	f := &Formatter{Palette: testPalette, PID: 42}
	compareString(t, "BSegmentation faultA (thread C17A, pid C42A)\nStack trace:\n",
		f.Header("Segmentation fault", 17))

	f = &Formatter{PID: 42}
	compareString(t, "Aborted (thread 17, pid 42)\nStack trace:\n", f.Header("Aborted", 17))
}

func TestFuncLine(t *testing.T) {
	t.Parallel()
	f := &Formatter{PID: 42}
	compareString(t, "[main.run]\n", f.FuncLine("main.run"))

	f.AppendPID = true
	compareString(t, "[main.run] (42)\n", f.FuncLine("main.run"))

	f.Palette = testPalette
	compareString(t, "D[main.run]A C(42)A\n", f.FuncLine("main.run"))

	f.AppendPID = false
	compareString(t, "D[main.run]A\n", f.FuncLine("main.run"))
}

func TestLocLine(t *testing.T) {
	t.Parallel()
	f := &Formatter{PID: 42}
	compareString(t, "/src/main.c:12\n", f.LocLine("/src/main.c", 12))

	f.Palette = testPalette
	compareString(t, "/src/main.cE:12A\n", f.LocLine("/src/main.c", 12))

	f.AppendPID = true
	compareString(t, "/src/main.cE:12A C(42)A\n", f.LocLine("/src/main.c", 12))
}

func TestLocFromImage(t *testing.T) {
	t.Parallel()
	f := &Formatter{PID: 42}
	compareString(t, "/usr/lib/libc.so.6:0x1234AB\n", f.LocFromImage("/usr/lib/libc.so.6", 0x1234ab))

	f.Palette = testPalette
	compareString(t, "/usr/lib/libc.so.6E:0x1234ABA\n", f.LocFromImage("/usr/lib/libc.so.6", 0x1234ab))
}

func TestFallbackLine(t *testing.T) {
	t.Parallel()
	f := &Formatter{PID: 42}
	compareString(t, "0xDEADBEEF at /bin/app\n", f.FallbackLine(0xdeadbeef, "/bin/app"))

	f.AppendPID = true
	f.Palette = testPalette
	compareString(t, "F0xDEADBEEFA at /bin/app C(42)A\n", f.FallbackLine(0xdeadbeef, "/bin/app"))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	data := []struct {
		name     string
		wd       string
		strip    bool
		collapse bool
		in       string
		want     string
	}{
		{
			name:  "strip full root",
			wd:    "/home/user/proj/",
			strip: true,
			in:    "/home/user/proj/src/main.c:42",
			want:  "src/main.c:42",
		},
		{
			name:  "strip partial shared prefix on boundary",
			wd:    "/home/user/proj/",
			strip: true,
			in:    "/home/user/other/lib.c:7",
			want:  "other/lib.c:7",
		},
		{
			name:  "never cuts a name in half",
			wd:    "/home/user/proj/",
			strip: true,
			in:    "/home/user/projects/x.c:1",
			want:  "projects/x.c:1",
		},
		{
			name:  "lone slash is not a root",
			wd:    "/home/user/proj/",
			strip: true,
			in:    "/var/log/x.c:1",
			want:  "/var/log/x.c:1",
		},
		{
			name: "stripping disabled",
			wd:   "/home/user/proj/",
			in:   "/home/user/proj/src/main.c:42",
			want: "/home/user/proj/src/main.c:42",
		},
		{
			name:  "empty workdir",
			strip: true,
			in:    "/home/user/proj/src/main.c:42",
			want:  "/home/user/proj/src/main.c:42",
		},
		{
			name:     "collapse leading parents",
			collapse: true,
			in:       "../../src/x.c:5",
			want:     "src/x.c:5",
		},
		{
			name:     "inner parents stay",
			collapse: true,
			in:       "/a/../b.c:2",
			want:     "/a/../b.c:2",
		},
		{
			name:     "strip then collapse",
			wd:       "/home/u/p/",
			strip:    true,
			collapse: true,
			in:       "/home/u/p/../shared/y.c:3",
			want:     "shared/y.c:3",
		},
	}
	for _, line := range data {
		line := line
		t.Run(line.name, func(t *testing.T) {
			t.Parallel()
			f := &Formatter{WorkDir: line.wd, StripRoot: line.strip, Collapse: line.collapse}
			compareString(t, line.want, f.normalizePath(line.in))
		})
	}
}

func TestDefaultPaletteEmitsEscapes(t *testing.T) {
	t.Parallel()
	f := &Formatter{Palette: DefaultPalette, PID: 1}
	got := f.FuncLine("main.main")
	if !strings.Contains(got, "\033[") {
		t.Fatalf("no escape sequence in %q", got)
	}
	f = &Formatter{PID: 1}
	if got = f.FuncLine("main.main"); strings.Contains(got, "\033") {
		t.Fatalf("escape sequence leaked into %q", got)
	}
}

func compareString(t *testing.T, expected, actual string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%q != %q", expected, actual)
	}
}
