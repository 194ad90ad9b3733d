// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"syscall"
	"testing"
)

func TestSignalLabel(t *testing.T) {
	t.Parallel()
	compareString(t, "Segmentation fault", SignalLabel(syscall.SIGSEGV))
	compareString(t, "Aborted", SignalLabel(syscall.SIGABRT))
	compareString(t, "Bus error", SignalLabel(syscall.SIGBUS))
	compareString(t, "Fatal signal 64", SignalLabel(syscall.Signal(64)))
}
