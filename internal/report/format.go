// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Formatter renders the lines of one crash report. Each method returns a
// complete newline-terminated line (Header returns two) so the caller
// can hand them one at a time to an unbuffered writer.
type Formatter struct {
	Palette Palette

	// PID is the crashed process, shown in the header and, when
	// AppendPID is set, parenthesized after every frame line.
	PID       int
	AppendPID bool

	// WorkDir is the prefix common-root stripping removes from source
	// paths. It must carry a trailing separator.
	WorkDir   string
	StripRoot bool
	Collapse  bool
}

// Header renders the first lines of the report: the signal description
// with the crashed thread and process, then the trace banner.
func (f *Formatter) Header(label string, tid int) string {
	p := &f.Palette
	return p.wrap(p.Label, label) +
		" (thread " + p.wrap(p.ID, strconv.Itoa(tid)) +
		", pid " + p.wrap(p.ID, strconv.Itoa(f.PID)) + ")" +
		"\nStack trace:\n"
}

// FuncLine renders the bracketed function-name line of a frame.
func (f *Formatter) FuncLine(name string) string {
	p := &f.Palette
	return p.wrap(p.Func, "["+name+"]") + f.pidSuffix() + "\n"
}

// LocLine renders the source-location line of a frame.
func (f *Formatter) LocLine(file string, line int) string {
	return f.locText(file + ":" + strconv.Itoa(line))
}

// LocFromImage renders the location line of a frame whose function name
// resolved but whose source location did not: the image path with the
// image-relative address standing in for the line number.
func (f *Formatter) LocFromImage(image string, addr uint64) string {
	return f.locText(image + ":" + hexAddr(addr))
}

// FallbackLine renders a frame nothing could resolve: its raw address
// and the image it lives in.
func (f *Formatter) FallbackLine(addr uint64, image string) string {
	p := &f.Palette
	return p.wrap(p.Addr, hexAddr(addr)) + " at " + image + f.pidSuffix() + "\n"
}

// locText normalizes a location's path and colors everything from the
// first colon to the end of the line.
func (f *Formatter) locText(loc string) string {
	loc = f.normalizePath(loc)
	if i := strings.IndexByte(loc, ':'); i >= 0 {
		p := &f.Palette
		loc = loc[:i] + p.wrap(p.LineNo, loc[i:])
	}
	return loc + f.pidSuffix() + "\n"
}

// normalizePath applies common-root stripping and relative-path
// collapsing to a displayed path.
func (f *Formatter) normalizePath(p string) string {
	if f.StripRoot {
		// A lone "/" does not count as a common root.
		if n := boundaryPrefixLen(f.WorkDir, p); n > 1 {
			p = p[n:]
		}
	}
	if f.Collapse {
		for strings.HasPrefix(p, "../") {
			p = p[3:]
		}
	}
	return p
}

func (f *Formatter) pidSuffix() string {
	if !f.AppendPID {
		return ""
	}
	p := &f.Palette
	return " " + p.wrap(p.ID, "("+strconv.Itoa(f.PID)+")")
}

// boundaryPrefixLen returns the length of the longest prefix shared by
// wd and p that ends on a path separator, so stripping never cuts a
// directory name in half.
func boundaryPrefixLen(wd, p string) int {
	n := 0
	for i := 0; i < len(wd) && i < len(p) && wd[i] == p[i]; i++ {
		if wd[i] == '/' {
			n = i + 1
		}
	}
	return n
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%X", addr)
}
