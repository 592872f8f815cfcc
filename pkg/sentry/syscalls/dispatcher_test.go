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

package syscalls

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/kernel/kerneltest"
	"trapgate.dev/trapgate/pkg/sentry/usermem"
)

const (
	sysEcho     sysno.Sysno = 1
	sysFail     sysno.Sysno = 2
	sysFault    sysno.Sysno = 3
	sysKill     sysno.Sysno = 4
	sysSelfExit sysno.Sysno = 5
	sysVoid     sysno.Sysno = 6
	sysMissing  sysno.Sysno = 7
)

// sentinel is stored in the result slot before each trap so that tests can
// tell whether the dispatcher wrote it.
const sentinel = 0xdeadbeef

type harness struct {
	k     *kernel.Kernel
	out   *kerneltest.Buffer
	d     *Dispatcher
	p     *kernel.Process
	calls int
	args  arch.SyscallArguments
}

func newHarness(t *testing.T) *harness {
	h := &harness{}
	h.k, h.out = kerneltest.New(t, kerneltest.Options{})
	table := &kernel.SyscallTable{
		Name: t.Name(),
		Table: map[sysno.Sysno]kernel.Syscall{
			sysEcho: Returning("echo", -1, func(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
				h.calls++
				h.args = args
				return args[0].Value + args[1].Value, nil
			}, kernel.ArgInt, kernel.ArgInt),
			sysFail: Returning("fail", 0, func(context.Context, *kernel.Process, arch.SyscallArguments) (uintptr, error) {
				h.calls++
				return 7, linuxerr.ENOENT
			}, kernel.ArgString),
			sysFault: Returning("fault", -1, func(context.Context, *kernel.Process, arch.SyscallArguments) (uintptr, error) {
				h.calls++
				return 0, &usermem.Fault{Reason: usermem.FaultNull}
			}),
			sysKill: Supported("kill", func(context.Context, *kernel.Process, arch.SyscallArguments) (uintptr, error) {
				h.calls++
				return 0, kernel.Kill("test")
			}, kernel.ArgFD),
			sysSelfExit: Returning("selfexit", -1, func(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
				h.calls++
				p.Exit(ctx, 9)
				return 5, nil
			}),
			sysVoid: Supported("void", func(context.Context, *kernel.Process, arch.SyscallArguments) (uintptr, error) {
				h.calls++
				return 5, nil
			}),
			sysMissing: Unimplemented("missing", "not here", kernel.ArgInt),
		},
	}
	if err := table.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h.d = NewDispatcher(table, nil)
	h.d.Register(h.k)
	h.p = kerneltest.NewProcess(t, h.k, nil, "p")
	return h
}

func (h *harness) trap(sp hostarch.Addr) *arch.TrapFrame {
	f := &arch.TrapFrame{Vector: arch.SyscallVector, SP: sp, Result: sentinel}
	h.k.Trap(context.Background(), h.p, f)
	return f
}

func (h *harness) wantExit(t *testing.T, status int32) {
	t.Helper()
	if !h.p.Exited() {
		t.Fatalf("process still running")
	}
	if got := h.p.ExitStatus(); got != status {
		t.Errorf("exit status = %d, want %d", got, status)
	}
}

func TestDispatchResult(t *testing.T) {
	h := newHarness(t)
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysEcho, 40, 2, 99)
	f := h.trap(kerneltest.SP)
	if f.Return() != 42 {
		t.Errorf("result = %d, want 42", f.Return())
	}
	// Only the words the syscall declares are read.
	want := arch.SyscallArguments{{Value: 40}, {Value: 2}, {Value: 0}}
	if diff := cmp.Diff(want, h.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if h.p.Exited() {
		t.Errorf("process exited on a valid call")
	}
}

func TestDispatchFailValue(t *testing.T) {
	h := newHarness(t)
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysFail, 0)
	if f := h.trap(kerneltest.SP); f.Result != 0 {
		t.Errorf("result = %#x, want the fail value 0", f.Result)
	}
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysEcho, 1, 1)
	h.trap(kerneltest.SP)
	if diff := cmp.Diff(map[sysno.Sysno]SyscallStats{
		sysFail: {Calls: 1, Failures: 1},
		sysEcho: {Calls: 1},
	}, h.d.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchVoidLeavesResult(t *testing.T) {
	h := newHarness(t)
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysVoid)
	if f := h.trap(kerneltest.SP); f.Result != sentinel {
		t.Errorf("void syscall wrote result %#x", f.Result)
	}
}

func TestDispatchFatal(t *testing.T) {
	for _, tc := range []struct {
		name string
		nr   sysno.Sysno
	}{
		{"fault", sysFault},
		{"kill", sysKill},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			kerneltest.PushFrame(t, h.p, kerneltest.SP, tc.nr, 0)
			f := h.trap(kerneltest.SP)
			h.wantExit(t, -1)
			if f.Result != sentinel {
				t.Errorf("result written after a fatal error: %#x", f.Result)
			}
			if got, want := h.out.String(), "p: exit(-1)\n"; got != want {
				t.Errorf("console = %q, want %q", got, want)
			}
			if s := h.d.Stats()[tc.nr]; s.Kills != 1 {
				t.Errorf("Kills = %d, want 1", s.Kills)
			}
		})
	}
}

func TestDispatchNoResultAfterExit(t *testing.T) {
	h := newHarness(t)
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysSelfExit)
	f := h.trap(kerneltest.SP)
	h.wantExit(t, 9)
	if f.Result != sentinel {
		t.Errorf("result written after exit: %#x", f.Result)
	}

	// Later traps are ignored.
	kerneltest.PushFrame(t, h.p, kerneltest.SP, sysEcho, 1, 1)
	h.trap(kerneltest.SP)
	if h.calls != 1 {
		t.Errorf("syscall ran after exit")
	}
}

func TestDispatchUnimplemented(t *testing.T) {
	for _, nr := range []sysno.Sysno{sysMissing, 0, 1000, 1 << 31} {
		t.Run(nr.String(), func(t *testing.T) {
			h := newHarness(t)
			kerneltest.PushFrame(t, h.p, kerneltest.SP, nr, 1, 2, 3)
			h.trap(kerneltest.SP)
			h.wantExit(t, -1)
			if h.calls != 0 {
				t.Errorf("implementation ran")
			}
			if h.d.Unimplemented() != 1 {
				t.Errorf("Unimplemented() = %d, want 1", h.d.Unimplemented())
			}
		})
	}
}

func TestDispatchBadFrames(t *testing.T) {
	for _, tc := range []struct {
		name  string
		sp    hostarch.Addr
		setup func(t *testing.T, h *harness)
	}{
		{
			name: "null",
			sp:   0,
		},
		{
			name: "kernel",
			sp:   hostarch.KernelBase,
		},
		{
			name: "kernel top",
			sp:   0xfffffffc,
		},
		{
			name: "unmapped",
			sp:   0x10000000,
		},
		{
			name: "number straddles unmapped page",
			sp:   kerneltest.StackPage - 2,
		},
		{
			name: "args cross into kernel",
			sp:   hostarch.KernelBase - 8,
			setup: func(t *testing.T, h *harness) {
				// The number and the first argument are valid; the second
				// argument is not.
				kerneltest.PushFrame(t, h.p, hostarch.KernelBase-8, sysEcho, 1)
			},
		},
		{
			name: "args cross into unmapped page",
			sp:   kerneltest.ReadOnlyPage + hostarch.PageSize - 4,
			setup: func(t *testing.T, h *harness) {
				kerneltest.PushFrame(t, h.p, kerneltest.ReadOnlyPage+hostarch.PageSize-4, sysEcho)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.setup != nil {
				tc.setup(t, h)
			}
			f := h.trap(tc.sp)
			h.wantExit(t, -1)
			if h.calls != 0 {
				t.Errorf("implementation ran on a bad frame")
			}
			if f.Result != sentinel {
				t.Errorf("result written on a bad frame: %#x", f.Result)
			}
			if h.d.BadFrames() != 1 {
				t.Errorf("BadFrames() = %d, want 1", h.d.BadFrames())
			}
		})
	}
}

func TestDispatchReadOnlyFrame(t *testing.T) {
	// A frame only needs to be readable.
	h := newHarness(t)
	kerneltest.PushFrame(t, h.p, kerneltest.ReadOnlyPage, sysEcho, 3, 4)
	if f := h.trap(kerneltest.ReadOnlyPage); f.Return() != 7 {
		t.Errorf("result = %d, want 7", f.Return())
	}
}
