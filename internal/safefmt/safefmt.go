// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// Package safefmt converts numbers to text and writes bytes using only
// caller-provided buffers and raw file descriptor writes.
//
// Everything here runs on the crash path, between the fault and the death
// of the process. No heap allocation, no buffered I/O, no locks. Callers
// size their buffers for the worst case; append never grows past the
// provided capacity when they do.
package safefmt

import (
	"golang.org/x/sys/unix"
)

// Uppercase digits, matching the hex rendering used for addresses in
// crash reports.
const digits = "0123456789ABCDEF"

// AppendUint appends the text form of v in the given base to dst and
// returns the extended slice. base must be in [2, 16].
func AppendUint(dst []byte, v uint64, base uint64) []byte {
	var buf [32]byte
	i := len(buf)
	if v == 0 {
		i--
		buf[i] = '0'
	}
	for v != 0 {
		i--
		buf[i] = digits[v%base]
		v /= base
	}
	return append(dst, buf[i:]...)
}

// AppendInt is AppendUint for signed values.
func AppendInt(dst []byte, v int64, base uint64) []byte {
	if v < 0 {
		dst = append(dst, '-')
		return AppendUint(dst, uint64(-v), base)
	}
	return AppendUint(dst, uint64(v), base)
}

// AppendHex appends v as 0x-prefixed uppercase hexadecimal.
func AppendHex(dst []byte, v uint64) []byte {
	dst = append(dst, '0', 'x')
	return AppendUint(dst, v, 16)
}

// Stderr is the file descriptor reports are written to.
const Stderr = 2

// Write performs a single raw write of b to the file descriptor. There is
// no buffering and no retry; a failed or empty write terminates the
// process immediately, since a crash report that cannot reach its stream
// has nothing left to do.
func Write(fd int, b []byte) {
	if len(b) == 0 {
		return
	}
	n, err := unix.Write(fd, b)
	if err != nil || n <= 0 {
		unix.Exit(1)
	}
}

// Fatal writes msg to stderr, best effort, and terminates the process
// without running any cleanup. Used for violated internal assumptions on
// the crash path, where nothing is recoverable. msg is truncated to 256
// bytes.
func Fatal(msg string) {
	var buf [256]byte
	n := copy(buf[:], msg)
	_, _ = unix.Write(Stderr, buf[:n])
	unix.Exit(1)
}
