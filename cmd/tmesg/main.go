// Copyright 2024 The tmesg authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// tmesg prints, sizes or clears the secure boot log of a connected device.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/tmesg/api"
	"github.com/transparency-dev/tmesg/client"
	"github.com/transparency-dev/tmesg/client/u2f"
	"github.com/transparency-dev/tmesg/tee"
)

type mode int

const (
	modeMessage mode = iota
	modeSize
	modeClear
)

var errUsage = errors.New("invalid arguments")

// options maps every accepted option spelling onto its canonical form.
var options = map[string]string{
	"-s":      "-s",
	"-S":      "-s",
	"--size":  "--size",
	"-c":      "-c",
	"-C":      "-c",
	"--clear": "--clear",
}

func parseArgs(args []string) (mode, error) {
	if len(args) > 1 {
		return 0, errUsage
	}

	fs := pflag.NewFlagSet("tmesg", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	size := fs.BoolP("size", "s", false, "display current bootlog message size")
	clearLog := fs.BoolP("clear", "c", false, "clear the boot log message in bootlog buffer")

	flags := make([]string, len(args))

	for i, arg := range args {
		a, ok := options[arg]
		if !ok {
			return 0, errUsage
		}

		flags[i] = a
	}

	if err := fs.Parse(flags); err != nil || fs.NArg() > 0 || fs.NFlag() != len(flags) {
		return 0, errUsage
	}

	switch {
	case *size && *clearLog:
		return 0, errUsage
	case *size:
		return modeSize, nil
	case *clearLog:
		return modeClear, nil
	}

	return modeMessage, nil
}

func usage(w io.Writer, name string) {
	fmt.Fprintf(w, "#### TEE Secure Bootlog message ####\n")
	fmt.Fprintf(w, "Usage: %s [-s|-S|--size] [-c|-C|--clear]\n", name)
	fmt.Fprintf(w, "  -s \tDisplay current bootlog message size\n")
	fmt.Fprintf(w, "  -c \tClear the boot log message in bootlog buffer\n\n")
	fmt.Fprintf(w, "Example Usage: %s -s\n", name)
	fmt.Fprintf(w, "               %s -S\n", name)
	fmt.Fprintf(w, "               %s --size\n", name)
	fmt.Fprintf(w, "               %s -c\n", name)
	fmt.Fprintf(w, "               %s -C\n", name)
	fmt.Fprintf(w, "               %s --clear\n", name)
	fmt.Fprintf(w, "               %s\n", name)
}

func run(ctx context.Context, m mode, b *client.BootLog, out io.Writer) error {
	switch m {
	case modeSize:
		size, err := b.Size(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Current bootlog message size is : %d\n", size)
	case modeClear:
		return b.Clear(ctx)
	default:
		msg, err := b.Message(ctx)
		if err != nil {
			return err
		}

		if _, err = out.Write(append(msg, '\n')); err != nil {
			return err
		}
	}

	return nil
}

// progress shows a progress bar once a response spans multiple chunks.
type progress struct {
	bar *pb.ProgressBar
}

func (p *progress) update(n int) {
	if p.bar == nil {
		if n < api.MaxChunkSize {
			return
		}

		p.bar = pb.New(0)
		p.bar.Set(pb.Bytes, true)
		p.bar.SetWriter(os.Stderr)
		p.bar.SetTemplate(`{{counters . }} {{speed . }}`)
		p.bar.Start()
	}

	if int64(n) > p.bar.Current() {
		p.bar.SetCurrent(int64(n))
	}
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

func main() {
	name := filepath.Base(os.Args[0])

	m, err := parseArgs(os.Args[1:])
	if err != nil {
		usage(os.Stdout, name)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dev, err := u2f.Detect()
	if err != nil {
		klog.Exitf("Failed to detect device: %v", err)
	}

	tr := &u2f.Transport{Device: dev}

	p := &progress{}
	if m == modeMessage && term.IsTerminal(int(os.Stderr.Fd())) {
		tr.Progress = p.update
	}

	err = run(ctx, m, &client.BootLog{Transport: tr}, os.Stdout)
	p.finish()

	if errors.Is(err, tee.ErrTargetDead) {
		if s, serr := tr.Status(); serr == nil {
			klog.Errorf("Trusted Applet unavailable, device status:\n%s", s.Print())
		}
	}

	if err != nil {
		klog.Exitf("%v", err)
	}
}
