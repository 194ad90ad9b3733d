// Copyright 2025 The sigtrace Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// sigsym resolves crash addresses outside the crashed process.
//
// Addresses come from the command line or are scanned out of anything
// piped in, typically a saved report whose unresolved frames look like
// "0x7F32 at /usr/lib/libfoo.so". Each address is resolved against a
// binary (-e) or a live process (-pid) and printed as the same frame
// lines the crash reporter prints.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/sigtrace/sigtrace/internal/report"
	"github.com/sigtrace/sigtrace/internal/symbolize"
)

func parseAddr(s string) (uint64, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%q does not look like an address", s)
	}
	return v, nil
}

// collectAddrs gathers the addresses to resolve from the arguments, or
// from stdin when there are none.
func collectAddrs(args []string, in io.Reader) ([]uint64, error) {
	if len(args) > 0 {
		addrs := make([]uint64, 0, len(args))
		for _, a := range args {
			v, err := parseAddr(a)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, v)
		}
		return addrs, nil
	}

	var addrs []uint64
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			if !strings.HasPrefix(tok, "0x") && !strings.HasPrefix(tok, "0X") {
				continue
			}
			if v, err := parseAddr(tok); err == nil {
				addrs = append(addrs, v)
			}
		}
	}
	return addrs, sc.Err()
}

func emit(out io.Writer, f *report.Formatter, fr symbolize.Frame) {
	if fr.Func == "" {
		_, _ = io.WriteString(out, f.FallbackLine(fr.ImageOffset, fr.Image))
		return
	}
	_, _ = io.WriteString(out, f.FuncLine(fr.Func))
	if fr.File != "" {
		_, _ = io.WriteString(out, f.LocLine(fr.File, fr.Line))
		return
	}
	_, _ = io.WriteString(out, f.LocFromImage(fr.Image, fr.ImageOffset))
}

func mainImpl() error {
	exe := flag.String("e", "", "binary to resolve against")
	pid := flag.Int("pid", 0, "live process to resolve against")
	verbose := flag.Bool("v", false, "enables verbose logging output")
	fullPath := flag.Bool("full-path", false, "print full source paths")
	noColor := flag.Bool("no-color", !isatty.IsTerminal(os.Stdout.Fd()) || os.Getenv("TERM") == "dumb", "disable coloring")
	forceColor := flag.Bool("force-color", false, "forcibly enable coloring even when stdout is redirected")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(io.Discard)
	if *verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.DebugLevel)
	}

	var res *symbolize.Resolver
	switch {
	case *exe != "" && *pid != 0:
		return errors.New("use either -e or -pid, not both")
	case *exe != "":
		res = symbolize.NewFile(*exe)
	case *pid != 0:
		exePath, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", *pid))
		if err != nil {
			return fmt.Errorf("cannot find the executable of process %d: %w", *pid, err)
		}
		if res, err = symbolize.New(*pid, exePath); err != nil {
			log.WithError(err).Warn("resolving with a degraded symbolizer")
		}
	default:
		return errors.New("specify a binary with -e or a process with -pid")
	}
	defer res.Close()

	var out io.Writer = os.Stdout
	pal := report.DefaultPalette
	if *noColor && !*forceColor {
		pal = report.Palette{}
	} else {
		out = colorable.NewColorableStdout()
	}

	wd, _ := os.Getwd()
	if wd != "" && !strings.HasSuffix(wd, "/") {
		wd += "/"
	}
	f := &report.Formatter{
		Palette:   pal,
		WorkDir:   wd,
		StripRoot: !*fullPath,
		Collapse:  !*fullPath,
	}

	if flag.NArg() == 0 {
		// Keep SIGQUIT usable for making the piped program dump its
		// state.
		signals := make(chan os.Signal, 1)
		go func() {
			for {
				<-signals
			}
		}()
		signal.Notify(signals, os.Interrupt, syscall.SIGQUIT)
	}

	addrs, err := collectAddrs(flag.Args(), os.Stdin)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		log.WithField("addr", fmt.Sprintf("%#x", a)).Debug("resolving")
		emit(out, f, res.Resolve(uintptr(a)))
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "sigsym: %v\n", err)
		os.Exit(1)
	}
}
