// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package symbolize

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Region
		wantErr bool
	}{
		{
			name: "file backed",
			line: "55d4b2000000-55d4b2021000 r--p 00000000 08:01 131073 /usr/bin/victim",
			want: Region{
				Start:  0x55d4b2000000,
				End:    0x55d4b2021000,
				Offset: 0,
				Perms:  "r--p",
				Path:   "/usr/bin/victim",
			},
		},
		{
			name: "anonymous",
			line: "7f8a9b000000-7f8a9b002000 rw-p 00001000 08:01 131074",
			want: Region{
				Start:  0x7f8a9b000000,
				End:    0x7f8a9b002000,
				Offset: 0x1000,
				Perms:  "rw-p",
			},
		},
		{
			name: "path with spaces",
			line: "7f8a9b000000-7f8a9b002000 r-xp 00001000 08:01 131074 /usr/lib/libc.so.6 (deleted)",
			want: Region{
				Start:  0x7f8a9b000000,
				End:    0x7f8a9b002000,
				Offset: 0x1000,
				Perms:  "r-xp",
				Path:   "/usr/lib/libc.so.6 (deleted)",
			},
		},
		{
			name: "vdso",
			line: "7fff5bd17000-7fff5bd19000 r-xp 00000000 00:00 0 [vdso]",
			want: Region{
				Start: 0x7fff5bd17000,
				End:   0x7fff5bd19000,
				Perms: "r-xp",
				Path:  "[vdso]",
			},
		},
		{
			name:    "short line",
			line:    "55d4b2000000-55d4b2021000 r--p",
			wantErr: true,
		},
		{
			name:    "bad hex",
			line:    "zzz-55d4b2021000 r--p 00000000 08:01 131073 /usr/bin/victim",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRegion(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("parseRegion mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegionPredicates(t *testing.T) {
	exe := Region{Perms: "r-xp", Path: "/usr/bin/victim"}
	if !exe.Executable() || !exe.Mapped() {
		t.Error("file-backed text region misclassified")
	}
	anon := Region{Perms: "rw-p"}
	if anon.Executable() || anon.Mapped() {
		t.Error("anonymous data region misclassified")
	}
	vdso := Region{Perms: "r-xp", Path: "[vdso]"}
	if !vdso.Executable() || vdso.Mapped() {
		t.Error("vdso misclassified")
	}
}

func TestRegionFor(t *testing.T) {
	regions := []Region{
		{Start: 0x1000, End: 0x2000, Path: "/a"},
		{Start: 0x4000, End: 0x5000, Path: "/b"},
	}
	if r := regionFor(regions, 0x1800); r == nil || r.Path != "/a" {
		t.Fatalf("0x1800 resolved to %+v", r)
	}
	if r := regionFor(regions, 0x4000); r == nil || r.Path != "/b" {
		t.Fatalf("0x4000 resolved to %+v", r)
	}
	if r := regionFor(regions, 0x3000); r != nil {
		t.Fatalf("gap address resolved to %+v", r)
	}
	if r := regionFor(regions, 0x5000); r != nil {
		t.Fatalf("end address is exclusive, got %+v", r)
	}
}

func TestLowestStart(t *testing.T) {
	regions := []Region{
		{Start: 0x7000, End: 0x8000, Path: "/lib"},
		{Start: 0x5000, End: 0x6000, Path: "/lib"},
		{Start: 0x1000, End: 0x2000, Path: "/other"},
	}
	if got := lowestStart(regions, "/lib"); got != 0x5000 {
		t.Fatalf("got %#x", got)
	}
	if got := lowestStart(regions, "/missing"); got != 0 {
		t.Fatalf("got %#x for missing path", got)
	}
}

func TestReadProcMapsSelf(t *testing.T) {
	regions, err := ReadProcMaps(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) == 0 {
		t.Fatal("no regions for the current process")
	}
	found := false
	for _, r := range regions {
		if r.Executable() && r.Mapped() {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no executable file-backed region found")
	}
}
