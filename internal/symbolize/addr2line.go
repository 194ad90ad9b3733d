// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package symbolize

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// tool runs the external resolver for one image/address pair and returns
// its combined stdout and stderr. Swapped out in tests.
type tool func(image string, addr uint64) ([]byte, error)

// runAddr2Line spawns one addr2line per address, the argument order the
// tool has accepted since forever: address first, then -f for the
// function name, -C to demangle, -e for the image. CombinedOutput reads
// both streams through one pipe and always reaps the child.
func runAddr2Line(image string, addr uint64) ([]byte, error) {
	cmd := exec.Command("addr2line", fmt.Sprintf("0x%X", addr), "-f", "-C", "-e", image)
	return cmd.CombinedOutput()
}

// parseToolOutput splits the two-line addr2line answer: function name,
// then file:line. Either half comes back empty when the tool answered
// with its ?? placeholder. Extra annotation after the line number
// ("(discriminator N)" and friends) is dropped.
func parseToolOutput(out []byte) (fn, file string, line int) {
	head, rest, _ := bytes.Cut(out, []byte{'\n'})
	loc, _, _ := bytes.Cut(rest, []byte{'\n'})

	if len(head) > 0 && head[0] != '?' {
		fn = string(head)
	}
	l := string(loc)
	if i := strings.IndexByte(l, ' '); i >= 0 {
		l = l[:i]
	}
	if l == "" || l[0] == '?' {
		return fn, "", 0
	}
	i := strings.LastIndexByte(l, ':')
	if i <= 0 {
		return fn, "", 0
	}
	n, err := strconv.Atoi(l[i+1:])
	if err != nil || n <= 0 {
		return fn, "", 0
	}
	return fn, l[:i], n
}
