// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package report

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"

	"github.com/sigtrace/sigtrace/internal/symbolize"
)

// WriteArtifact saves the resolved trace in dir as a gzip-compressed
// pprof protobuf named crash-<uuid>.pb.gz and returns its path. The file
// appears atomically: it is written under a temporary name first and
// renamed into place.
func WriteArtifact(dir string, sig syscall.Signal, frames []symbolize.Frame, now time.Time) (string, error) {
	p := buildProfile(sig, frames, now)
	path := filepath.Join(dir, "crash-"+uuid.New().String()+".pb.gz")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	// Write gzips the serialized protobuf itself.
	if err = p.Write(f); err == nil {
		err = f.Close()
	} else {
		f.Close()
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// buildProfile lays the trace out as a one-sample profile, leaf frame
// first as profiling UIs expect.
func buildProfile(sig syscall.Signal, frames []symbolize.Frame, now time.Time) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "crash", Unit: "count"}},
		TimeNanos:  now.UnixNano(),
		Comments:   []string{"signal: " + SignalLabel(sig)},
	}

	funcs := map[string]*profile.Function{}
	maps := map[string]*profile.Mapping{}

	addMapping := func(file string) *profile.Mapping {
		if m, ok := maps[file]; ok {
			return m
		}
		m := &profile.Mapping{ID: uint64(len(maps) + 1), File: file}
		maps[file] = m
		p.Mapping = append(p.Mapping, m)
		return m
	}
	addFunction := func(name, file string) *profile.Function {
		if fn, ok := funcs[name]; ok {
			return fn
		}
		fn := &profile.Function{
			ID:       uint64(len(funcs) + 1),
			Name:     name,
			Filename: file,
		}
		funcs[name] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	locs := make([]*profile.Location, 0, len(frames))
	for i, fr := range frames {
		loc := &profile.Location{
			ID:      uint64(i + 1),
			Address: uint64(fr.PC),
			Mapping: addMapping(fr.Image),
		}
		if fr.Func != "" {
			loc.Line = []profile.Line{{
				Function: addFunction(fr.Func, fr.File),
				Line:     int64(fr.Line),
			}}
		}
		p.Location = append(p.Location, loc)
		locs = append(locs, loc)
	}

	p.Sample = []*profile.Sample{{
		Value:    []int64{1},
		Location: locs,
		Label:    map[string][]string{"signal": {SignalLabel(sig)}},
	}}
	return p
}
