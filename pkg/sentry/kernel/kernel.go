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

// Package kernel provides the kernel state that user processes trap into: the
// process table, per-process descriptor tables, the filesystem serializer, the
// interrupt table, and the exit/wait handshake.
//
// Lock order:
//
//	FSSerializer
//	  Kernel.mu
//
// Kernel.mu is never held while acquiring the FSSerializer.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/fs"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// ThreadID is a process identifier.
type ThreadID int32

// InitPID is the first process ID allocated by a Kernel.
const InitPID ThreadID = 1

// Loader creates processes from command lines. It is the exec collaborator.
type Loader interface {
	// Spawn starts a new process running the program named by the first
	// word of cmdline. parent is nil for initial processes.
	Spawn(ctx context.Context, k *Kernel, parent *Process, cmdline string) (*Process, error)
}

// Limits are the tunables that shape syscall behavior.
type Limits struct {
	// ConsoleChunk is the largest number of bytes a single console write
	// will emit.
	ConsoleChunk int

	// NameMax is the longest legal file name.
	NameMax int

	// MaxOpenFiles is the largest number of descriptors a process may hold
	// open at once.
	MaxOpenFiles int
}

// DefaultLimits returns the default Limits.
func DefaultLimits() Limits {
	return Limits{
		ConsoleChunk: 256,
		NameMax:      14,
		MaxOpenFiles: 128,
	}
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// Filesystem is the filesystem all processes share. Init takes
	// ownership of it.
	Filesystem fs.Filesystem

	// Console is the console device. If nil, output is discarded and input
	// is empty.
	Console Console

	// Loader is the exec collaborator. It may be nil, in which case exec
	// always fails.
	Loader Loader

	// Limits are the syscall tunables.
	Limits Limits
}

// Kernel represents an emulated kernel.
type Kernel struct {
	fs      fs.Filesystem
	console Console
	loader  Loader
	limits  Limits

	// serializer guards fs and every process's descriptor table.
	serializer *FSSerializer

	intr interruptTable

	// mu protects the process table and the parent/child links of every
	// process.
	mu        sync.Mutex
	processes map[ThreadID]*Process
	nextPID   ThreadID

	haltOnce sync.Once
	halted   chan struct{}

	// procs runs process goroutines.
	procs errgroup.Group
}

// Init initializes the Kernel with no processes.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.Filesystem == nil {
		return fmt.Errorf("a filesystem is required")
	}
	if args.Limits.ConsoleChunk <= 0 {
		return fmt.Errorf("invalid console chunk %d", args.Limits.ConsoleChunk)
	}
	if args.Limits.NameMax <= 0 {
		return fmt.Errorf("invalid name max %d", args.Limits.NameMax)
	}
	if args.Limits.MaxOpenFiles <= 0 {
		return fmt.Errorf("invalid open file limit %d", args.Limits.MaxOpenFiles)
	}
	k.fs = args.Filesystem
	k.console = args.Console
	if k.console == nil {
		k.console = NewConsole(nil, nil)
	}
	k.loader = args.Loader
	k.limits = args.Limits
	k.serializer = NewFSSerializer()
	k.processes = make(map[ThreadID]*Process)
	k.nextPID = InitPID
	k.halted = make(chan struct{})
	return nil
}

// FS returns the serializer that guards filesystem access.
func (k *Kernel) FS() *FSSerializer {
	return k.serializer
}

// Filesystem returns the shared filesystem. Callers must hold k.FS().
func (k *Kernel) Filesystem() fs.Filesystem {
	return k.fs
}

// Console returns the console device.
func (k *Kernel) Console() Console {
	return k.console
}

// Loader returns the exec collaborator, or nil.
func (k *Kernel) Loader() Loader {
	return k.loader
}

// SetLoader sets the exec collaborator. It must be called before any process
// runs.
func (k *Kernel) SetLoader(l Loader) {
	k.loader = l
}

// Limits returns the syscall tunables.
func (k *Kernel) Limits() Limits {
	return k.limits
}

// PowerOff halts the kernel. Every process stops at its next trap, and
// blocked waits return. PowerOff is idempotent.
func (k *Kernel) PowerOff() {
	k.haltOnce.Do(func() {
		log.Infof("Kernel powering off")
		close(k.halted)
	})
}

// Halted returns a channel that is closed once the kernel has powered off.
func (k *Kernel) Halted() <-chan struct{} {
	return k.halted
}

// IsHalted returns true if the kernel has powered off.
func (k *Kernel) IsHalted() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

// NewProcess creates a process and enters it in the process table. parent may
// be nil.
func (k *Kernel) NewProcess(parent *Process, name string, argv []string, as *mm.MemoryManager) *Process {
	p := &Process{
		k:        k,
		name:     name,
		argv:     argv,
		mm:       as,
		fdTable:  NewFDTable(k.limits.MaxOpenFiles),
		children: make(map[ThreadID]*Process),
		waitCh:   make(chan struct{}),
		exited:   make(chan struct{}),
	}
	k.mu.Lock()
	p.pid = k.nextPID
	k.nextPID++
	k.processes[p.pid] = p
	if parent != nil {
		p.parent = parent
		parent.children[p.pid] = p
	}
	k.mu.Unlock()
	log.Debugf("[%d] created process %q argv=%q", p.pid, name, argv)
	return p
}

// LookupProcess returns the process with the given ID, if it is live or
// exited but not yet reaped.
func (k *Kernel) LookupProcess(pid ThreadID) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.processes[pid]
}

// NumProcesses returns the number of processes in the process table.
func (k *Kernel) NumProcesses() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.processes)
}

// Start runs fn on a new goroutine on behalf of p. WaitIdle waits for all such
// goroutines.
func (k *Kernel) Start(p *Process, fn func() error) {
	k.procs.Go(func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("process %d (%s): %w", p.pid, p.name, err)
		}
		return nil
	})
}

// WaitIdle waits for every goroutine started with Start, and returns the
// first error any of them returned.
func (k *Kernel) WaitIdle() error {
	return k.procs.Wait()
}

// Release releases the kernel's filesystem. The kernel must be idle.
func (k *Kernel) Release(ctx context.Context) error {
	return k.serializer.Do(ctx, func() error {
		return k.fs.Release(ctx)
	})
}
