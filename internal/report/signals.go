// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"strconv"
	"syscall"
)

// signalLabels maps fatal signals to the descriptions shells print for
// processes killed by them.
var signalLabels = map[syscall.Signal]string{
	syscall.SIGSEGV: "Segmentation fault",
	syscall.SIGABRT: "Aborted",
	syscall.SIGBUS:  "Bus error",
	syscall.SIGILL:  "Illegal instruction",
	syscall.SIGFPE:  "Floating point exception",
	syscall.SIGTRAP: "Trace/breakpoint trap",
}

// SignalLabel returns the human description of sig for the report
// header.
func SignalLabel(sig syscall.Signal) string {
	if label, ok := signalLabels[sig]; ok {
		return label
	}
	return "Fatal signal " + strconv.Itoa(int(sig))
}
