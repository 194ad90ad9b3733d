// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"github.com/mgutz/ansi"
)

// Palette defines the colors used for each part of a crash report.
//
// An empty object Palette{} can be used to disable coloring.
type Palette struct {
	EOLReset string

	// Header line.
	Label string // Signal description, e.g. "Segmentation fault".
	ID    string // Thread and process identifiers.

	// Frame lines.
	Func   string // Bracketed function name.
	LineNo string // The ":42" tail of a source location.
	Addr   string // Raw address of a frame nothing could resolve.
}

// DefaultPalette is the palette used when color output is enabled.
var DefaultPalette = Palette{
	EOLReset: ansi.Reset,
	Label:    ansi.ColorCode("red+b"),
	ID:       ansi.ColorCode("yellow+b"),
	Func:     ansi.ColorCode("blue+b"),
	LineNo:   ansi.ColorCode("green+b"),
	Addr:     ansi.ColorCode("green+b"),
}

// wrap surrounds s with the given color code. Empty palette fields
// concatenate to nothing, so a colorless palette emits s untouched.
func (p *Palette) wrap(color, s string) string {
	return color + s + p.EOLReset
}
