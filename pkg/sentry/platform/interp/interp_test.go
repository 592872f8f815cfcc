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

package interp

import (
	"context"
	"testing"

	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/kernel/kerneltest"
	"trapgate.dev/trapgate/pkg/sentry/loader"
	"trapgate.dev/trapgate/pkg/sentry/syscalls"
	"trapgate.dev/trapgate/pkg/sentry/syscalls/userprog"
)

type machine struct {
	k   *kernel.Kernel
	cpu *Interpreter
	reg *loader.Registry
	out *kerneltest.Buffer
}

func newMachine(t *testing.T, input string, images ...string) *machine {
	t.Helper()
	m := &machine{cpu: New()}
	m.reg = loader.NewRegistry(m.cpu)
	for _, img := range images {
		p, err := loader.ParseBytes([]byte(img))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if err := m.reg.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	m.k, m.out = kerneltest.New(t, kerneltest.Options{Loader: m.reg, Input: input})
	syscalls.NewDispatcher(userprog.UserProg, nil).Register(m.k)
	return m
}

// run execs cmdline as the first process and waits for everything to finish.
func (m *machine) run(t *testing.T, cmdline string) {
	t.Helper()
	if _, err := m.reg.Spawn(context.Background(), m.k, nil, cmdline); err != nil {
		t.Fatalf("Spawn(%q): %v", cmdline, err)
	}
	if err := m.k.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestNotes(t *testing.T) {
	m := newMachine(t, "", `
name: notes
data:
  - {label: name, string: "notes.txt"}
  - {label: msg, string: "hi there"}
  - {label: buf, size: 16}
steps:
  - {call: create, args: ["&name", 32], expect: 1}
  - {call: open, args: ["&name"], expect: 2, save: fd}
  - {call: write, args: ["$fd", "&msg", 8], expect: 8}
  - {call: tell, args: ["$fd"], expect: 8}
  - {call: seek, args: ["$fd", 0]}
  - {call: read, args: ["$fd", "&buf", 16], expect: 8}
  - {call: write, args: [1, "&buf", 8], expect: 8}
  - {call: filesize, args: ["$fd"], expect: 8}
  - {call: close, args: ["$fd"]}
  - {call: filesize, args: ["$fd"], expect: -1}
`)
	m.run(t, "notes")
	if got, want := m.out.String(), "hi therenotes: exit(0)\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	if n := m.cpu.Mismatches(); n != 0 {
		t.Errorf("Mismatches() = %d, want 0", n)
	}
	if n := m.cpu.Steps(); n != 10 {
		t.Errorf("Steps() = %d, want 10", n)
	}
}

func TestExpectMismatch(t *testing.T) {
	m := newMachine(t, "", `
name: wrong
data:
  - {label: name, string: "absent"}
steps:
  - {call: open, args: ["&name"], expect: 2}
  - {call: exit, args: [3]}
`)
	m.run(t, "wrong")
	if n := m.cpu.Mismatches(); n != 1 {
		t.Errorf("Mismatches() = %d, want 1", n)
	}
	if got, want := m.out.String(), "wrong: exit(3)\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestFatalSteps(t *testing.T) {
	for _, tc := range []struct {
		name string
		step string
	}{
		{"null stack", `{call: exit, args: [0], sp: 0}`},
		{"kernel stack", `{call: exit, args: [0], sp: 0xc0000000}`},
		{"unregistered vector", `{call: exit, args: [0], vector: 0x31}`},
		{"unknown syscall", `{call: 99}`},
		{"bad buffer", `{call: write, args: [1, 0, 4]}`},
		{"bad close", `{call: close, args: [7]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine(t, "", "name: bad\nsteps:\n  - "+tc.step+"\n  - {call: exit, args: [5]}\n")
			m.run(t, "bad")
			if got, want := m.out.String(), "bad: exit(-1)\n"; got != want {
				t.Errorf("console = %q, want %q", got, want)
			}
			if n := m.cpu.Steps(); n != 1 {
				t.Errorf("Steps() = %d, want 1", n)
			}
		})
	}
}

func TestExecWait(t *testing.T) {
	m := newMachine(t, "",
		`
name: shell
data:
  - {label: cmd, string: "child 7"}
  - {label: missing, string: "nosuch"}
steps:
  - {call: exec, args: ["&missing"], expect: -1}
  - {call: exec, args: ["&cmd"], save: pid}
  - {call: wait, args: ["$pid"], save: status, expect: 7}
  - {call: wait, args: ["$pid"], expect: -1}
  - {call: exit, args: ["$status"]}
`, `
name: child
steps:
  - {call: write, args: [1, "$arg0", 5], expect: 5}
  - {call: exit, args: ["$int1"]}
`)
	m.run(t, "shell")
	if got, want := m.out.String(), "childchild: exit(7)\nshell: exit(7)\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	if n := m.cpu.Mismatches(); n != 0 {
		t.Errorf("Mismatches() = %d, want 0", n)
	}
}

func TestHalt(t *testing.T) {
	m := newMachine(t, "", `
name: off
steps:
  - {call: halt}
  - {call: exit, args: [1]}
`)
	m.run(t, "off")
	if !m.k.IsHalted() {
		t.Errorf("kernel still running after halt")
	}
	if got := m.out.String(); got != "" {
		t.Errorf("console = %q, want nothing", got)
	}
}

func TestConsoleEcho(t *testing.T) {
	m := newMachine(t, "abc", `
name: echo
data:
  - {label: buf, size: 8}
steps:
  - {call: read, args: [0, "&buf", 8], save: n, expect: 3}
  - {call: write, args: [1, "&buf", "$n"], expect: 3}
`)
	m.run(t, "echo")
	if got, want := m.out.String(), "abcecho: exit(0)\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}
