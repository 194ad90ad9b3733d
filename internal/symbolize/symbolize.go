// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package symbolize maps program counters of a crashed process back to
// function names and source locations.
//
// Resolution is per frame and layered: the module containing the address
// is found in /proc/<pid>/maps, the address is rebased into the module's
// own address space, and the name and location come from the first of
// addr2line, the image's Go line table, or its ELF symbol table that has
// an answer. A frame nothing can resolve still reports its address and
// module so the report never goes silent.
package symbolize

import (
	"errors"
	"fmt"
	"os/exec"
)

// Frame is one resolved stack entry. Func, File and Line are empty when
// the respective lookup failed; Image and ImageOffset are always set.
type Frame struct {
	PC          uintptr
	Image       string
	ImageOffset uint64
	MainExe     bool
	Func        string
	File        string
	Line        int
}

// Resolver symbolizes addresses against one live process or one binary.
type Resolver struct {
	exe     string
	regions []Region
	mods    map[string]*module
	tool    tool
	noTool  bool
	offline bool
}

// New builds a resolver for the live process pid whose executable is
// exePath. When the maps file cannot be read the resolver still works in
// a degraded mode that treats every address as main-executable code; the
// error tells the caller it happened.
func New(pid int, exePath string) (*Resolver, error) {
	r := &Resolver{
		exe:  exePath,
		mods: make(map[string]*module),
		tool: runAddr2Line,
	}
	regions, err := ReadProcMaps(pid)
	if err != nil {
		return r, fmt.Errorf("degraded to raw addresses: %w", err)
	}
	r.regions = regions
	return r, nil
}

// NewFile builds an offline resolver: addresses are taken as already
// file-relative to the given binary. This is the mode the standalone
// symbolizer tool uses on saved reports.
func NewFile(exePath string) *Resolver {
	return &Resolver{
		exe:     exePath,
		mods:    make(map[string]*module),
		tool:    runAddr2Line,
		offline: true,
	}
}

// Close releases any image files the resolver opened.
func (r *Resolver) Close() {
	for _, m := range r.mods {
		m.close()
	}
}

// module returns the cached handle for the image, opening it on first
// use.
func (r *Resolver) module(path string) *module {
	if m, ok := r.mods[path]; ok {
		return m
	}
	var m *module
	if r.offline {
		m = offlineModule(path)
	} else {
		m = openModule(path, r.regions)
	}
	r.mods[path] = m
	return m
}

// locate picks the image for a PC. Addresses outside any mapped
// executable region, in anonymous or pseudo mappings, or inside the main
// executable all resolve against the executable itself; only a foreign,
// absolute, file-backed mapping counts as a shared module.
func (r *Resolver) locate(pc uintptr) (*module, bool) {
	if r.offline {
		return r.module(r.exe), true
	}
	reg := regionFor(r.regions, uint64(pc))
	if reg == nil || !reg.Executable() || !reg.Mapped() || reg.Path == r.exe {
		return r.module(r.exe), true
	}
	return r.module(reg.Path), false
}

// Resolve symbolizes one address. It never fails; a frame that defeated
// every lookup comes back with only its address and image filled in.
func (r *Resolver) Resolve(pc uintptr) Frame {
	mod, mainExe := r.locate(pc)
	addr := uint64(pc)
	if !r.offline {
		addr = mod.fileAddr(uint64(pc))
	}
	f := Frame{
		PC:          pc,
		Image:       mod.path,
		ImageOffset: addr,
		MainExe:     mainExe,
	}

	if !r.noTool {
		out, err := r.tool(mod.path, addr)
		if err == nil {
			f.Func, f.File, f.Line = parseToolOutput(out)
		} else if errors.Is(err, exec.ErrNotFound) {
			// The tool is not coming back for later frames either.
			r.noTool = true
		}
	}
	if f.Func != "" && f.File != "" {
		return f
	}

	if fn, file, line, err := mod.lookupGo(addr); err == nil {
		if f.Func == "" {
			f.Func = fn
		}
		if f.File == "" {
			f.File = file
			f.Line = line
		}
		return f
	}
	if f.Func == "" {
		if fn, err := mod.lookupELF(addr); err == nil {
			f.Func = fn
		}
	}
	return f
}

// FuncName is the cheap lookup the reporter uses to trim runtime plumbing
// off the head of a trace: Go line table or ELF symbols only, no
// subprocess.
func (r *Resolver) FuncName(pc uintptr) string {
	mod, _ := r.locate(pc)
	addr := uint64(pc)
	if !r.offline {
		addr = mod.fileAddr(uint64(pc))
	}
	if fn, _, _, err := mod.lookupGo(addr); err == nil {
		return fn
	}
	if fn, err := mod.lookupELF(addr); err == nil {
		return fn
	}
	return ""
}
