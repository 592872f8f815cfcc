// Copyright 2026 The trapgate Authors.
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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/trapgate/boot"
	"trapgate.dev/trapgate/trapgate/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	all     bool
	cmdline string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a kernel and run programs on it"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program.yaml> [program.yaml...] - boot a kernel, register
every program image and run the first one. Any program may exec the others.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.all, "all", false, "run every program concurrently, instead of only the first.")
	f.StringVar(&r.cmdline, "cmdline", "", "command line of the first program, default is its name.")
	f.DurationVar(&r.timeout, "timeout", 0, "power the kernel off after this long. Zero waits forever.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	exitStatus := args[1].(*int)

	progs, err := readPrograms(f.Args())
	if err != nil {
		Fatalf("%v", err)
	}

	cmdlines := []string{progs[0].Name}
	if r.cmdline != "" {
		cmdlines[0] = r.cmdline
	}
	if r.all {
		for _, p := range progs[1:] {
			cmdlines = append(cmdlines, p.Name)
		}
	}

	l, err := boot.New(boot.Args{
		Conf:     conf,
		Programs: progs,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
	})
	if err != nil {
		Fatalf("error booting kernel: %v", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	results, err := l.Run(ctx, cmdlines)
	if derr := l.Destroy(context.Background()); derr != nil {
		log.Warningf("Destroying kernel: %v", derr)
	}
	if err != nil {
		Fatalf("error running programs: %v", err)
	}

	for _, res := range results {
		if res.Halted {
			log.Infof("%s: halted", res.Name)
		}
	}
	if n := l.Mismatches(); n > 0 {
		fmt.Fprintf(os.Stderr, "%d step(s) returned an unexpected result\n", n)
	}
	if !results[0].Halted {
		*exitStatus = int(results[0].Status) & 0xff
	}
	return subcommands.ExitSuccess
}
