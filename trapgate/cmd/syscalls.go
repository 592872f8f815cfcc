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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
	table  string
}

// CompatibilityInfo maps syscall table names to their docs.
type CompatibilityInfo map[string]TableInfo

// TableInfo is compatibility doc for a syscall table.
type TableInfo struct {
	// Syscalls are the table's syscalls, in number order.
	Syscalls []SyscallDoc `json:"syscalls"`
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Num     uint32   `json:"num"`
	Name    string   `json:"name"`
	Args    []string `json:"args"`
	Returns bool     `json:"returns"`
	Fail    *int32   `json:"fail,omitempty"`
	Support string   `json:"support"`
	Note    string   `json:"note,omitempty"`
}

type outputFunc func(io.Writer, CompatibilityInfo) error

var (
	// The string name to use for printing compatibility for all tables.
	tableAll = "all"

	// A map of output type names to output functions.
	outputMap = map[string]outputFunc{
		"table": outputTable,
		"json":  outputJSON,
		"csv":   outputCSV,
	}
)

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
	f.StringVar(&s.table, "table", tableAll, "The syscall table (e.g. userprog).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("Unsupported output format %q", s.output)
	}
	info, err := getCompatibilityInfo(s.table)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := out(os.Stdout, info); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// getCompatibilityInfo returns compatibility info for the named table, or for
// every table if name is 'all'.
func getCompatibilityInfo(name string) (CompatibilityInfo, error) {
	info := make(CompatibilityInfo)
	if name == tableAll {
		for _, t := range kernel.SyscallTables() {
			info[t.Name] = tableInfo(t)
		}
		return info, nil
	}
	t, ok := kernel.LookupSyscallTable(name)
	if !ok {
		return nil, fmt.Errorf("syscall table for %q not found", name)
	}
	info[name] = tableInfo(t)
	return info, nil
}

func tableInfo(t *kernel.SyscallTable) TableInfo {
	var ti TableInfo
	for _, num := range t.Numbers() {
		sc, _ := t.Lookup(num)
		doc := SyscallDoc{
			Num:     uint32(num),
			Name:    sc.Name,
			Args:    []string{},
			Returns: sc.Returns,
			Support: "Full",
			Note:    sc.Note,
		}
		for _, a := range sc.Args {
			doc.Args = append(doc.Args, a.String())
		}
		if sc.Returns {
			fail := sc.Fail
			doc.Fail = &fail
		}
		if !sc.Supported {
			doc.Support = "Unimplemented"
		}
		ti.Syscalls = append(ti.Syscalls, doc)
	}
	return ti
}

func sortedTables(info CompatibilityInfo) []string {
	var names []string
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, info CompatibilityInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range sortedTables(info) {
		fmt.Fprintf(w, "%s:\n\n", name)

		// Write the header
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", "NUM", "NAME", "ARGS", "FAIL", "SUPPORT", "NOTE"); err != nil {
			return err
		}
		for _, sc := range info[name].Syscalls {
			fail := "void"
			if sc.Fail != nil {
				fail = strconv.FormatInt(int64(*sc.Fail), 10)
			}
			if _, err := fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				sc.Num,
				sc.Name,
				strings.Join(sc.Args, ","),
				fail,
				sc.Support,
				sc.Note,
			); err != nil {
				return err
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, info CompatibilityInfo) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(info)
}

// outputCSV outputs the syscall info in CSV format.
func outputCSV(w io.Writer, info CompatibilityInfo) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"Table", "Num", "Name", "Args", "Returns", "Support", "Note"}); err != nil {
		return err
	}
	for _, name := range sortedTables(info) {
		for _, sc := range info[name].Syscalls {
			if err := csvWriter.Write([]string{
				name,
				strconv.FormatUint(uint64(sc.Num), 10),
				sc.Name,
				strings.Join(sc.Args, " "),
				strconv.FormatBool(sc.Returns),
				sc.Support,
				sc.Note,
			}); err != nil {
				return err
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
