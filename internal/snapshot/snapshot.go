// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package snapshot defines the crash record a faulting process hands to
// its reporter child over a pipe.
//
// The record is a fixed-layout little-endian block, bounded by BufSize.
// Encoding happens in the crashed process and is allocation-free;
// decoding happens in the reporter, where allocation is unrestricted.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Layout, offsets in bytes:
//
//	0   8  magic "sigtrap\x00"
//	8   1  version
//	9   1  option bits
//	10  1  signal number
//	11  1  display frame bound
//	12  4  pid of the crashed process
//	16  4  kernel thread id of the faulting thread
//	20  2  captured frame count
//	22  2  executable path length
//	24  2  artifact directory length
//	26  .. executable path, artifact directory, then count 8-byte PCs
const (
	// BufSize bounds the wire form of any snapshot. The field limits below
	// guarantee a record always fits.
	BufSize = 4096
	// MaxPCs is the capture bound: the display bound plus the frames the
	// unwinder spends on panic plumbing, up to six on the runtimes in
	// support.
	MaxPCs = 106
	// MaxPath bounds the executable path and the artifact directory.
	MaxPath = 1024

	headerSize = 26
	version    = 1
)

var magic = [8]byte{'s', 'i', 'g', 't', 'r', 'a', 'p', 0}

// Option bits. Only the options the reporter acts on travel on the wire;
// the termination policy stays in the parent.
const (
	OptColor = 1 << iota
	OptAppendPid
	OptStripCommonRoot
	OptCollapseRelative
	OptFreeze
)

// ErrOversize is returned by EncodeTo when a field exceeds its bound or
// the destination buffer is too small. It is a preallocated sentinel so
// the encode path stays allocation-free.
var ErrOversize = errors.New("snapshot: record exceeds buffer bounds")

// Snapshot is everything the reporter needs to symbolize and print one
// crash: the signal, the identity of the crashed process, the reporting
// options, and the captured program counters.
type Snapshot struct {
	Sig         int
	PID         int
	TID         int
	Options     uint8
	MaxFrames   int
	ExePath     string
	ArtifactDir string
	PCs         []uintptr
}

// Has reports whether the option bit is set.
func (s *Snapshot) Has(opt uint8) bool {
	return s.Options&opt != 0
}

// EncodeTo writes the wire form of s into buf and returns the number of
// bytes written. buf must be at least BufSize long. The only failure mode
// is ErrOversize; callers on the crash path treat it as fatal.
func (s *Snapshot) EncodeTo(buf []byte) (int, error) {
	n := headerSize + len(s.ExePath) + len(s.ArtifactDir) + 8*len(s.PCs)
	if len(s.ExePath) > MaxPath || len(s.ArtifactDir) > MaxPath ||
		len(s.PCs) > MaxPCs || s.Sig < 0 || s.Sig > 255 ||
		s.MaxFrames < 0 || s.MaxFrames > 255 || n > len(buf) {
		return 0, ErrOversize
	}
	copy(buf, magic[:])
	buf[8] = version
	buf[9] = s.Options
	buf[10] = byte(s.Sig)
	buf[11] = byte(s.MaxFrames)
	binary.LittleEndian.PutUint32(buf[12:], uint32(s.PID))
	binary.LittleEndian.PutUint32(buf[16:], uint32(s.TID))
	binary.LittleEndian.PutUint16(buf[20:], uint16(len(s.PCs)))
	binary.LittleEndian.PutUint16(buf[22:], uint16(len(s.ExePath)))
	binary.LittleEndian.PutUint16(buf[24:], uint16(len(s.ArtifactDir)))
	off := headerSize
	off += copy(buf[off:], s.ExePath)
	off += copy(buf[off:], s.ArtifactDir)
	for _, pc := range s.PCs {
		binary.LittleEndian.PutUint64(buf[off:], uint64(pc))
		off += 8
	}
	return off, nil
}

// Decode parses one wire-form snapshot out of b.
func Decode(b []byte) (*Snapshot, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("snapshot: truncated record: %d bytes", len(b))
	}
	if [8]byte(b[:8]) != magic {
		return nil, errors.New("snapshot: bad magic")
	}
	if b[8] != version {
		return nil, fmt.Errorf("snapshot: version %d, want %d", b[8], version)
	}
	s := &Snapshot{
		Options:   b[9],
		Sig:       int(b[10]),
		MaxFrames: int(b[11]),
		PID:       int(binary.LittleEndian.Uint32(b[12:])),
		TID:       int(binary.LittleEndian.Uint32(b[16:])),
	}
	count := int(binary.LittleEndian.Uint16(b[20:]))
	exeLen := int(binary.LittleEndian.Uint16(b[22:]))
	artLen := int(binary.LittleEndian.Uint16(b[24:]))
	if count > MaxPCs || exeLen > MaxPath || artLen > MaxPath {
		return nil, fmt.Errorf("snapshot: field bounds exceeded: count=%d exe=%d artifact=%d", count, exeLen, artLen)
	}
	if want := headerSize + exeLen + artLen + 8*count; len(b) < want {
		return nil, fmt.Errorf("snapshot: truncated record: %d bytes, want %d", len(b), want)
	}
	off := headerSize
	s.ExePath = string(b[off : off+exeLen])
	off += exeLen
	s.ArtifactDir = string(b[off : off+artLen])
	off += artLen
	if count > 0 {
		s.PCs = make([]uintptr, count)
		for i := range s.PCs {
			s.PCs[i] = uintptr(binary.LittleEndian.Uint64(b[off:]))
			off += 8
		}
	}
	return s, nil
}

// Read consumes r to EOF and decodes the snapshot, enforcing the BufSize
// bound. This is the reporter-side entry: the parent writes one record
// and closes its end.
func Read(r io.Reader) (*Snapshot, error) {
	b, err := io.ReadAll(io.LimitReader(r, BufSize+1))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	if len(b) > BufSize {
		return nil, fmt.Errorf("snapshot: record larger than %d bytes", BufSize)
	}
	return Decode(b)
}
