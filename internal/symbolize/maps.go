// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package symbolize

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Region is one line of /proc/<pid>/maps.
type Region struct {
	Start, End uint64
	Offset     uint64
	Perms      string
	Path       string
}

// Executable reports whether code runs out of the region.
func (r *Region) Executable() bool {
	return len(r.Perms) > 2 && r.Perms[2] == 'x'
}

// Mapped reports whether the region is backed by an on-disk file usable
// as a symbolization image. Anonymous mappings, [vdso] style pseudo
// entries and relative paths do not qualify.
func (r *Region) Mapped() bool {
	return strings.HasPrefix(r.Path, "/")
}

// ReadProcMaps parses /proc/<pid>/maps. Unparseable lines are skipped;
// the kernel's format is stable enough that a bad line means a truncated
// read, not a reason to lose the rest.
func ReadProcMaps(pid int) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []Region
	s := bufio.NewScanner(f)
	for s.Scan() {
		r, err := parseRegion(s.Text())
		if err != nil {
			continue
		}
		regions = append(regions, r)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// parseRegion parses one maps line, e.g.
//
//	55d4b2000000-55d4b2021000 r-xp 00000000 08:01 131073  /usr/bin/victim
//
// The pathname is optional and may itself contain spaces.
func parseRegion(line string) (Region, error) {
	parts := strings.Fields(line)
	if len(parts) < 5 {
		return Region{}, fmt.Errorf("short maps line %q", line)
	}
	var path string
	if len(parts) >= 6 {
		path = strings.Join(parts[5:], " ")
	}
	se := strings.SplitN(parts[0], "-", 2)
	if len(se) != 2 {
		return Region{}, fmt.Errorf("bad address range in %q", line)
	}
	start, err1 := strconv.ParseUint(se[0], 16, 64)
	end, err2 := strconv.ParseUint(se[1], 16, 64)
	off, err3 := strconv.ParseUint(parts[2], 16, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Region{}, fmt.Errorf("bad numeric field in %q", line)
	}
	return Region{Start: start, End: end, Offset: off, Perms: parts[1], Path: path}, nil
}

// regionFor returns the region containing pc, or nil.
func regionFor(regions []Region, pc uint64) *Region {
	for i := range regions {
		if pc >= regions[i].Start && pc < regions[i].End {
			return &regions[i]
		}
	}
	return nil
}

// lowestStart returns the lowest mapped address of the named image, which
// is its runtime load base.
func lowestStart(regions []Region, path string) uint64 {
	var base uint64
	found := false
	for i := range regions {
		if regions[i].Path != path {
			continue
		}
		if !found || regions[i].Start < base {
			base = regions[i].Start
			found = true
		}
	}
	return base
}
