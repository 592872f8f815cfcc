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
	"fmt"
	"sync/atomic"
	"time"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/strace"
	"trapgate.dev/trapgate/pkg/sentry/usermem"
)

// unimplementedEvery is the rate limit for unimplemented syscall diagnostics.
const unimplementedEvery = 100 * time.Millisecond

// Request is a decoded syscall frame. It is built only after the whole frame
// has been validated.
type Request struct {
	// Sysno is the syscall number.
	Sysno sysno.Sysno

	// Syscall is the table entry for Sysno.
	Syscall *kernel.Syscall

	// Args holds the arguments the syscall reads; the rest are zero.
	Args arch.SyscallArguments
}

// unimplementedError is returned by decode for a syscall number the table does
// not implement.
type unimplementedError struct {
	sysno sysno.Sysno
}

func (e *unimplementedError) Error() string {
	return fmt.Sprintf("unimplemented system call: %s", e.sysno)
}

// SyscallStats counts invocations of one syscall.
type SyscallStats struct {
	// Calls is the number of times the syscall ran.
	Calls uint64

	// Failures is the number of calls that stored the failure value.
	Failures uint64

	// Kills is the number of calls that terminated the caller.
	Kills uint64
}

type counters struct {
	calls    atomic.Uint64
	failures atomic.Uint64
	kills    atomic.Uint64
}

// Dispatcher is the syscall trap handler.
type Dispatcher struct {
	table  *kernel.SyscallTable
	tracer *strace.Tracer
	unimpl log.Logger

	stats    [sysno.Count]counters
	other    counters
	unknown  atomic.Uint64
	badFrame atomic.Uint64
}

// NewDispatcher returns a Dispatcher running syscalls from table. tracer may be
// nil.
func NewDispatcher(table *kernel.SyscallTable, tracer *strace.Tracer) *Dispatcher {
	if tracer == nil {
		tracer = strace.NewTracer(nil)
	}
	return &Dispatcher{
		table:  table,
		tracer: tracer,
		unimpl: log.BasicRateLimitedLogger(unimplementedEvery),
	}
}

// Register installs d as k's syscall trap handler.
func (d *Dispatcher) Register(k *kernel.Kernel) {
	k.RegisterTrapHandler(arch.SyscallVector, arch.UserDPL, "syscall", d)
}

// Tracer returns d's tracer.
func (d *Dispatcher) Tracer() *strace.Tracer {
	return d.tracer
}

// decode validates and reads the frame at sp.
func (d *Dispatcher) decode(p *kernel.Process, sp hostarch.Addr) (*Request, error) {
	as := p.MemoryManager()
	if err := usermem.CheckWords(as, sp, 1); err != nil {
		return nil, err
	}
	nr, err := usermem.CopyInWord(as, sp)
	if err != nil {
		return nil, err
	}
	s := sysno.Sysno(nr)
	sc, ok := d.table.Lookup(s)
	if !ok || !sc.Supported {
		return nil, &unimplementedError{sysno: s}
	}

	words := 1 + sc.Arity()
	if err := usermem.CheckWords(as, sp, words); err != nil {
		return nil, err
	}
	frame := make([]byte, words*sysno.WordSize)
	if err := usermem.CopyIn(as, sp, frame); err != nil {
		return nil, err
	}
	req := &Request{Sysno: s, Syscall: sc}
	for i := 0; i < sc.Arity(); i++ {
		req.Args[i] = arch.FromWord(sysno.ByteOrder.Uint32(frame[(i+1)*sysno.WordSize:]))
	}
	return req, nil
}

// HandleTrap implements kernel.TrapHandler.HandleTrap.
func (d *Dispatcher) HandleTrap(ctx context.Context, p *kernel.Process, f *arch.TrapFrame) {
	if p.Stopped() {
		return
	}
	req, err := d.decode(p, f.SP)
	if err != nil {
		if u, ok := err.(*unimplementedError); ok {
			d.unknown.Add(1)
			d.unimpl.Warningf("%v: %v", p, u)
		} else {
			d.badFrame.Add(1)
			log.Debugf("%v: bad syscall frame at %v: %v", p, f.SP, err)
		}
		p.Exit(ctx, -1)
		return
	}

	c := &d.other
	if int(req.Sysno) < len(d.stats) {
		c = &d.stats[req.Sysno]
	}
	c.calls.Add(1)

	var rec *strace.Record
	if d.tracer.Traced(req.Sysno) {
		rec = d.tracer.Enter(p, req.Sysno, req.Args, req.Syscall.Arity())
	}
	rval, err := req.Syscall.Fn(ctx, p, req.Args)
	if err != nil {
		if _, ok := usermem.AsFault(err); ok || kernel.IsKill(err) {
			c.kills.Add(1)
			if rec != nil {
				d.tracer.Exit(rec, -1, false, err)
			}
			log.Debugf("%v: %s: %v", p, req.Syscall.Name, err)
			p.Exit(ctx, -1)
			return
		}
		c.failures.Add(1)
		rval = arch.IntReturn(req.Syscall.Fail)
	}
	if rec != nil {
		d.tracer.Exit(rec, int32(rval), req.Syscall.Returns, err)
	}

	// Nobody is left to receive a result.
	if p.Stopped() {
		return
	}
	if req.Syscall.Returns {
		f.SetReturn(rval)
	}
}

// Stats returns the counters of every syscall that has run at least once.
func (d *Dispatcher) Stats() map[sysno.Sysno]SyscallStats {
	m := make(map[sysno.Sysno]SyscallStats)
	for i := range d.stats {
		c := &d.stats[i]
		s := SyscallStats{
			Calls:    c.calls.Load(),
			Failures: c.failures.Load(),
			Kills:    c.kills.Load(),
		}
		if s.Calls != 0 {
			m[sysno.Sysno(i)] = s
		}
	}
	return m
}

// Unimplemented returns the number of traps that named an unknown or
// unsupported syscall.
func (d *Dispatcher) Unimplemented() uint64 {
	return d.unknown.Load()
}

// BadFrames returns the number of traps whose frame failed validation.
func (d *Dispatcher) BadFrames() uint64 {
	return d.badFrame.Load()
}
