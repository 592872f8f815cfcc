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

package loader

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/kernel/kerneltest"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

const notes = `
name: notes
data:
  - {label: name, string: "notes.txt"}
  - {label: buf, size: 64}
  - {label: ro, string: "const", readonly: true}
  - {label: raw, hex: "deadbeef"}
steps:
  - {call: create, args: ["&name", 100], expect: 1}
  - {call: open, args: ["&name"], save: fd}
  - {call: write, args: ["$fd", "&buf+4", 2], expect: 2}
  - {call: 12, args: ["$fd"]}
  - {call: exit, args: ["$int1"], sp: "0xc0000000", vector: 0x31}
  - {call: exec, args: ["$arg1", -1, true]}
`

func mustParse(t *testing.T, s string) *Program {
	t.Helper()
	p, err := ParseBytes([]byte(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestParse(t *testing.T) {
	p := mustParse(t, notes)
	if p.Name != "notes" {
		t.Errorf("Name = %q", p.Name)
	}
	var calls []sysno.Sysno
	for i := range p.Steps {
		calls = append(calls, p.Steps[i].Sysno())
	}
	want := []sysno.Sysno{sysno.SYS_CREATE, sysno.SYS_OPEN, sysno.SYS_WRITE, sysno.SYS_CLOSE, sysno.SYS_EXIT, sysno.SYS_EXEC}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	var args []string
	for _, a := range p.Steps[2].Args {
		args = append(args, a.String())
	}
	if diff := cmp.Diff([]string{"$fd", "&buf+4", "0x2"}, args); diff != "" {
		t.Errorf("write args mismatch (-want +got):\n%s", diff)
	}

	exit := &p.Steps[4]
	if exit.SP == nil || exit.SP.String() != "0xc0000000" {
		t.Errorf("exit sp = %v", exit.SP)
	}
	if exit.TrapVector() != 0x31 {
		t.Errorf("exit vector = %#x", uint8(exit.TrapVector()))
	}
	if p.Steps[0].TrapVector() != arch.SyscallVector {
		t.Errorf("default vector = %#x", uint8(p.Steps[0].TrapVector()))
	}
	if got := p.Steps[5].Args[1].String(); got != "0xffffffff" {
		t.Errorf("-1 parsed as %s", got)
	}
	if got := p.Steps[5].Args[2].String(); got != "0x1" {
		t.Errorf("true parsed as %s", got)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		want string
	}{
		{"empty", ``, "empty"},
		{"no name", `steps: []`, "program name"},
		{"spaces in name", "name: a b\nsteps: []", "program name"},
		{"unknown field", "name: a\nbogus: 1\nsteps: []", "bogus"},
		{"unknown syscall", "name: a\nsteps: [{call: fork}]", "unknown syscall"},
		{"unknown label", "name: a\nsteps: [{call: open, args: [\"&nope\"]}]", "unknown label"},
		{"unsaved var", "name: a\nsteps: [{call: close, args: [\"$fd\"]}]", "before it is saved"},
		{"too many args", "name: a\nsteps: [{call: read, args: [1, 2, 3, 4]}]", "at most"},
		{"duplicate label", "name: a\ndata: [{label: x, size: 1}, {label: x, size: 1}]\nsteps: []", "duplicate"},
		{"two kinds", "name: a\ndata: [{label: x, size: 1, string: y}]\nsteps: []", "exactly one"},
		{"bad hex", "name: a\ndata: [{label: x, hex: zz}]\nsteps: []", "invalid byte"},
		{"big int", "name: a\nsteps: [{call: exit, args: [0x100000000]}]", "invalid integer"},
		{"bad offset", "name: a\ndata: [{label: x, size: 1}]\nsteps: [{call: exit, args: [\"&x+y\"]}]", "offset"},
		{"reserved save", "name: a\nsteps: [{call: open, args: [1], save: arg0}]", "reserved"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	img, err := Layout(mustParse(t, notes))
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	wantLabels := map[string]hostarch.Addr{
		"name": DataBase,
		"buf":  DataBase + 12,
		"raw":  DataBase + 76,
		"ro":   DataBase + hostarch.PageSize,
	}
	if diff := cmp.Diff(wantLabels, img.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if len(img.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(img.Segments))
	}
	rw, ro := img.Segments[0], img.Segments[1]
	if rw.Perms != hostarch.ReadWrite || rw.Range.Start != DataBase || rw.Range.End != DataBase+hostarch.PageSize {
		t.Errorf("rw segment = %+v", rw.Range)
	}
	if ro.Perms != hostarch.Read || ro.Range.Start != DataBase+hostarch.PageSize {
		t.Errorf("ro segment = %+v", ro.Range)
	}
}

func TestLoad(t *testing.T) {
	img, err := Layout(mustParse(t, notes))
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	as, sp, argv, err := img.Load([]string{"notes", "7"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	read := func(addr hostarch.Addr, n int) string {
		b := make([]byte, n)
		if _, err := as.CopyIn(addr, b, mm.IOOpts{}); err != nil {
			t.Fatalf("CopyIn(%v): %v", addr, err)
		}
		return string(b)
	}
	if got := read(img.Labels["name"], 10); got != "notes.txt\x00" {
		t.Errorf("name = %q", got)
	}
	if got := read(img.Labels["raw"], 4); got != "\xde\xad\xbe\xef" {
		t.Errorf("raw = %q", got)
	}
	if got := read(argv[0], 6); got != "notes\x00" {
		t.Errorf("argv[0] = %q", got)
	}
	if got := read(argv[1], 2); got != "7\x00" {
		t.Errorf("argv[1] = %q", got)
	}
	if sp%sysno.WordSize != 0 || sp < StackBase || sp+4*sysno.WordSize > argv[0] {
		t.Errorf("sp = %v, argv[0] = %v", sp, argv[0])
	}
	if perms, ok := as.Lookup(img.Labels["ro"]); !ok || perms != hostarch.Read {
		t.Errorf("ro page perms = %v, %t", perms, ok)
	}

	if _, _, _, err := img.Load([]string{strings.Repeat("x", MaxCmdline)}); !linuxerr.Equals(linuxerr.E2BIG, err) {
		t.Errorf("Load with a huge command line: got %v, want E2BIG", err)
	}
}

func TestEnvResolve(t *testing.T) {
	env := &Env{
		Labels:    map[string]uint32{"buf": 0x1000},
		Argv:      []string{"prog", "12", "x"},
		ArgvAddrs: []uint32{0xbffff000, 0xbffff005, 0xbffff008},
		Vars:      map[string]uint32{"fd": 3},
	}
	for _, tc := range []struct {
		arg  string
		want uint32
	}{
		{"&buf", 0x1000},
		{"&buf+8", 0x1008},
		{"$fd", 3},
		{"$arg1", 0xbffff005},
		{"$arg9", 0},
		{"$int1", 12},
		{"$int2", 0},
		{"-2", 0xfffffffe},
		{"0x10", 0x10},
	} {
		a, err := ParseArg(tc.arg)
		if err != nil {
			t.Errorf("ParseArg(%q): %v", tc.arg, err)
			continue
		}
		if got := env.Resolve(a); got != tc.want {
			t.Errorf("Resolve(%q) = %#x, want %#x", tc.arg, got, tc.want)
		}
	}
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []*Process
}

func (r *recordingRunner) Run(ctx context.Context, k *kernel.Kernel, p *Process) error {
	r.mu.Lock()
	r.runs = append(r.runs, p)
	r.mu.Unlock()
	p.Exit(ctx, int32(len(p.Argv())))
	return nil
}

func TestRegistry(t *testing.T) {
	runner := &recordingRunner{}
	reg := NewRegistry(runner)
	if err := reg.Register(mustParse(t, notes)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(mustParse(t, notes)); err == nil {
		t.Errorf("second Register succeeded")
	}
	if diff := cmp.Diff([]string{"notes"}, reg.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	k, out := kerneltest.New(t, kerneltest.Options{Loader: reg})
	ctx := context.Background()
	parent := kerneltest.NewProcess(t, k, nil, "parent")
	child, err := reg.Spawn(ctx, k, parent, "  notes  a b ")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if diff := cmp.Diff([]string{"notes", "a", "b"}, child.Argv()); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if status, err := parent.Wait(ctx, child.PID()); err != nil || status != 3 {
		t.Errorf("Wait = %d, %v, want 3", status, err)
	}
	if got := out.String(); got != "notes: exit(3)\n" {
		t.Errorf("console = %q", got)
	}

	for _, cmdline := range []string{"", "   ", "nope"} {
		if _, err := reg.Spawn(ctx, k, parent, cmdline); err == nil {
			t.Errorf("Spawn(%q) succeeded", cmdline)
		}
	}
}
