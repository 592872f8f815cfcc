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

// Package interp is a user CPU that executes loaded programs. Each step of a
// program builds a syscall frame on the user stack and raises a trap.
package interp

import (
	"context"
	"sync/atomic"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/loader"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// Interpreter runs programs. It implements loader.Runner.
type Interpreter struct {
	steps      atomic.Uint64
	mismatches atomic.Uint64
}

// New returns an Interpreter.
func New() *Interpreter {
	return &Interpreter{}
}

// Steps returns the number of steps executed.
func (i *Interpreter) Steps() uint64 {
	return i.steps.Load()
}

// Mismatches returns the number of steps whose result differed from the
// expected one.
func (i *Interpreter) Mismatches() uint64 {
	return i.mismatches.Load()
}

// pushFrame writes the frame words at sp the way the program itself would:
// with user permissions. Words that cannot be written are left as they are.
func pushFrame(as *mm.MemoryManager, sp hostarch.Addr, words []uint32) {
	var b [sysno.WordSize]byte
	for i, w := range words {
		addr := sp + hostarch.Addr(i*sysno.WordSize)
		sysno.ByteOrder.PutUint32(b[:], w)
		if _, err := as.CopyOut(addr, b[:], mm.IOOpts{}); err != nil {
			log.Debugf("frame word %d at %v not writable: %v", i, addr, err)
		}
	}
}

// Run implements loader.Runner.Run. It returns once p has exited or the kernel
// has halted. A program that runs out of steps exits with status 0.
func (i *Interpreter) Run(ctx context.Context, k *kernel.Kernel, p *loader.Process) error {
	prog := p.Image.Program
	for n := range prog.Steps {
		if p.Stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		step := &prog.Steps[n]

		sp := p.SP
		if step.SP != nil {
			sp = hostarch.Addr(p.Env.Resolve(*step.SP))
		}
		words := []uint32{uint32(step.Sysno())}
		for _, a := range step.Args {
			words = append(words, p.Env.Resolve(a))
		}
		pushFrame(p.MemoryManager(), sp, words)

		f := &arch.TrapFrame{Vector: step.TrapVector(), SP: sp}
		i.steps.Add(1)
		k.Trap(ctx, p.Process, f)
		if p.Stopped() {
			break
		}

		if step.Expect != nil && *step.Expect != f.Return() {
			i.mismatches.Add(1)
			log.Warningf("%v: step %d (%s): got %d, want %d", p.Process, n, step.Call, f.Return(), *step.Expect)
		}
		if step.Save != "" {
			p.Env.Vars[step.Save] = f.Result
		}
	}
	if !p.Stopped() {
		p.Exit(ctx, 0)
	}
	return nil
}
