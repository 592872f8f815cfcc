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
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"trapgate.dev/trapgate/pkg/sentry/syscalls/userprog"
)

func userprogInfo(t *testing.T) CompatibilityInfo {
	t.Helper()
	info, err := getCompatibilityInfo(userprog.TableName)
	if err != nil {
		t.Fatalf("getCompatibilityInfo: %v", err)
	}
	return info
}

func TestCompatibilityInfo(t *testing.T) {
	info := userprogInfo(t)
	docs := info[userprog.TableName].Syscalls
	if len(docs) != 20 {
		t.Fatalf("got %d syscalls, want 20", len(docs))
	}
	fail := int32(-1)
	want := SyscallDoc{Num: 9, Name: "write", Args: []string{"fd", "ptr", "size"}, Returns: true, Fail: &fail, Support: "Full"}
	if diff := cmp.Diff(want, docs[9]); diff != "" {
		t.Errorf("write doc mismatch (-want +got):\n%s", diff)
	}
	if docs[0].Name != "halt" || docs[0].Returns || docs[0].Fail != nil {
		t.Errorf("halt doc = %+v", docs[0])
	}
	if docs[13].Support != "Unimplemented" || docs[13].Note == "" {
		t.Errorf("mmap doc = %+v", docs[13])
	}

	all, err := getCompatibilityInfo(tableAll)
	if err != nil {
		t.Fatalf("getCompatibilityInfo(all): %v", err)
	}
	if _, ok := all[userprog.TableName]; !ok {
		t.Errorf("all tables do not include %q", userprog.TableName)
	}
	if _, err := getCompatibilityInfo("nope"); err == nil {
		t.Errorf("unknown table accepted")
	}
}

func TestOutputs(t *testing.T) {
	info := userprogInfo(t)

	var buf bytes.Buffer
	if err := outputTable(&buf, info); err != nil {
		t.Fatalf("outputTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// Table name, blank line, header, then one row per syscall.
	if len(lines) != 23 {
		t.Errorf("table has %d lines, want 23:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "NUM") || !strings.Contains(lines[3], "halt") || !strings.Contains(lines[3], "void") {
		t.Errorf("unexpected table start:\n%s", buf.String())
	}

	buf.Reset()
	if err := outputJSON(&buf, info); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	var decoded CompatibilityInfo
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if diff := cmp.Diff(info, decoded); diff != "" {
		t.Errorf("JSON output mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := outputCSV(&buf, info); err != nil {
		t.Fatalf("outputCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv.ReadAll: %v", err)
	}
	if len(rows) != 21 {
		t.Fatalf("csv has %d rows, want 21", len(rows))
	}
	if diff := cmp.Diff([]string{"userprog", "6", "open", "string", "true", "Full", ""}, rows[7]); diff != "" {
		t.Errorf("open row mismatch (-want +got):\n%s", diff)
	}
}

func writeImage(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadPrograms(t *testing.T) {
	dir := t.TempDir()
	good := writeImage(t, dir, "good.yaml", "name: good\nsteps: [{call: exit, args: [0]}]\n")
	bad := writeImage(t, dir, "bad.yaml", "name: bad\nsteps: [{call: fork}]\n")

	progs, err := readPrograms([]string{good})
	if err != nil {
		t.Fatalf("readPrograms: %v", err)
	}
	if len(progs) != 1 || progs[0].Name != "good" {
		t.Errorf("readPrograms = %+v", progs)
	}
	if _, err := readPrograms([]string{good, bad, filepath.Join(dir, "missing.yaml")}); err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Errorf("readPrograms with bad images = %v, want 2 of 3 invalid", err)
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	a := writeImage(t, dir, "a.yaml", "name: a\nsteps: []\n")
	dup := writeImage(t, dir, "dup.yaml", "name: a\nsteps: []\n")

	for _, tc := range []struct {
		args []string
		want subcommands.ExitStatus
	}{
		{nil, subcommands.ExitUsageError},
		{[]string{"-q", a}, subcommands.ExitSuccess},
		{[]string{"-q", a, dup}, subcommands.ExitFailure},
	} {
		c := &Check{}
		f := flag.NewFlagSet("check", flag.ContinueOnError)
		f.SetOutput(new(bytes.Buffer))
		f.Usage = func() {}
		c.SetFlags(f)
		if err := f.Parse(tc.args); err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if got := c.Execute(context.Background(), f); got != tc.want {
			t.Errorf("check %v = %v, want %v", tc.args, got, tc.want)
		}
	}
}
