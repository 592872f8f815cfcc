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

	"github.com/google/subcommands"
	"trapgate.dev/trapgate/pkg/sentry/loader"
	"trapgate.dev/trapgate/trapgate/cmd/util"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	quiet bool
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "validate program images without running them"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] <program.yaml> [program.yaml...] - parse and lay out program images.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.quiet, "q", false, "only report errors.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	progs, err := readPrograms(f.Args())
	if err != nil {
		util.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	registry := loader.NewRegistry(nil)
	status := subcommands.ExitSuccess
	for _, p := range progs {
		if err := registry.Register(p); err != nil {
			util.Errorf("%v", err)
			status = subcommands.ExitFailure
			continue
		}
		if !c.quiet {
			fmt.Fprintf(os.Stdout, "%s: %d data items, %d steps\n", p.Name, len(p.Data), len(p.Steps))
		}
	}
	return status
}
