// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package symbolize

import (
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"os"
	"sort"
)

// module caches everything known about one loaded image: its load bias
// and, when the file is readable, its Go line table and ELF symbols.
// Symbol data is loaded lazily because most frames resolve through the
// external tool and never need it.
type module struct {
	path string
	// bias is runtime load address minus link-time address. Subtracting
	// it from a live PC yields the file-relative address every lookup
	// wants. Zero for non-PIE executables and ordinary shared objects.
	bias uint64

	f  *os.File
	ef *elf.File

	goTabOnce bool
	goTab     *gosym.Table

	symsOnce bool
	syms     []elf.Symbol
}

// openModule resolves the image's bias against its mapped regions.
// When the ELF file cannot be opened the module still works: the bias
// falls back to the raw load base, which matches images linked at zero.
func openModule(path string, regions []Region) *module {
	m := &module{path: path}
	base := lowestStart(regions, path)
	f, err := os.Open(path)
	if err != nil {
		m.bias = base
		return m
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		m.bias = base
		return m
	}
	m.f = f
	m.ef = ef
	if base != 0 {
		m.bias = base - minLoadVaddr(ef)
	}
	return m
}

// offlineModule treats addresses as already file-relative; used when
// resolving against a binary on disk with no live process.
func offlineModule(path string) *module {
	m := &module{path: path}
	f, err := os.Open(path)
	if err != nil {
		return m
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return m
	}
	m.f = f
	m.ef = ef
	return m
}

func (m *module) close() {
	if m.f != nil {
		m.f.Close()
		m.f = nil
		m.ef = nil
	}
}

// fileAddr rebases a live PC into the image's own address space.
func (m *module) fileAddr(pc uint64) uint64 {
	return pc - m.bias
}

// minLoadVaddr returns the lowest PT_LOAD virtual address, the link-time
// load base of the image.
func minLoadVaddr(ef *elf.File) uint64 {
	var min uint64
	found := false
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if !found || prog.Vaddr < min {
			min = prog.Vaddr
			found = true
		}
	}
	return min
}

// goLineTable lazily loads the Go runtime's line table from the image.
// Position-independent builds with external linking rename the section,
// so both names are tried.
func (m *module) goLineTable() *gosym.Table {
	if m.goTabOnce {
		return m.goTab
	}
	m.goTabOnce = true
	if m.ef == nil {
		return nil
	}
	pcln := m.ef.Section(".gopclntab")
	if pcln == nil {
		pcln = m.ef.Section(".data.rel.ro.gopclntab")
	}
	if pcln == nil {
		return nil
	}
	pclnData, err := pcln.Data()
	if err != nil {
		return nil
	}
	var textAddr uint64
	if text := m.ef.Section(".text"); text != nil {
		textAddr = text.Addr
	}
	tab, err := gosym.NewTable(nil, gosym.NewLineTable(pclnData, textAddr))
	if err != nil {
		return nil
	}
	m.goTab = tab
	return tab
}

// elfSymbols lazily loads .symtab and .dynsym, sorted by value for the
// nearest-symbol search.
func (m *module) elfSymbols() []elf.Symbol {
	if m.symsOnce {
		return m.syms
	}
	m.symsOnce = true
	if m.ef == nil {
		return nil
	}
	var syms []elf.Symbol
	if st, err := m.ef.Symbols(); err == nil {
		syms = append(syms, st...)
	}
	if st, err := m.ef.DynamicSymbols(); err == nil {
		syms = append(syms, st...)
	}
	funcs := syms[:0]
	for _, s := range syms {
		if s.Value != 0 && elf.ST_TYPE(s.Info) == elf.STT_FUNC {
			funcs = append(funcs, s)
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })
	m.syms = funcs
	return funcs
}

// lookupGo resolves a file-relative address through the Go line table.
func (m *module) lookupGo(addr uint64) (fn, file string, line int, err error) {
	tab := m.goLineTable()
	if tab == nil {
		return "", "", 0, errors.New("no Go line table")
	}
	file, line, f := tab.PCToLine(addr)
	if f == nil {
		return "", "", 0, fmt.Errorf("0x%x not in Go line table", addr)
	}
	return f.Name, file, line, nil
}

// lookupELF finds the nearest function symbol at or below the
// file-relative address.
func (m *module) lookupELF(addr uint64) (string, error) {
	syms := m.elfSymbols()
	if len(syms) == 0 {
		return "", errors.New("no ELF symbols")
	}
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Value > addr })
	if i == 0 {
		return "", fmt.Errorf("0x%x below first symbol", addr)
	}
	s := &syms[i-1]
	if s.Size > 0 && addr >= s.Value+s.Size {
		return "", fmt.Errorf("0x%x past end of %s", addr, s.Name)
	}
	return s.Name, nil
}
