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

package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// Process is a user process.
type Process struct {
	k    *Kernel
	pid  ThreadID
	name string
	argv []string
	mm   *mm.MemoryManager

	// fdTable is protected by k.FS().
	fdTable *FDTable

	// parent, children and reaped are protected by k.mu. parent is nil for
	// initial and orphaned processes.
	parent   *Process
	children map[ThreadID]*Process
	reaped   bool

	exitOnce   sync.Once
	exitStatus atomic.Int32

	// waitCh is closed when p signals its parent that it has exited.
	waitCh        chan struct{}
	parentSignals atomic.Int32

	// exited is closed when p has finished exiting.
	exited chan struct{}
}

// Kernel returns the kernel p runs on.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// PID returns p's process ID.
func (p *Process) PID() ThreadID {
	return p.pid
}

// Name returns p's name, the first word of its command line.
func (p *Process) Name() string {
	return p.name
}

// Argv returns p's command line words, p.Name() first.
func (p *Process) Argv() []string {
	return p.argv
}

// MemoryManager returns p's address space.
func (p *Process) MemoryManager() *mm.MemoryManager {
	return p.mm
}

// WithFDTable runs fn with p's descriptor table while holding the kernel's
// FSSerializer. fn may use the kernel filesystem.
func (p *Process) WithFDTable(ctx context.Context, fn func(t *FDTable) error) error {
	return p.k.FS().Do(ctx, func() error {
		return fn(p.fdTable)
	})
}

// Parent returns p's parent, or nil.
func (p *Process) Parent() *Process {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.parent
}

// Exited returns true once p has finished exiting.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitedCh returns a channel that is closed once p has finished exiting.
func (p *Process) ExitedCh() <-chan struct{} {
	return p.exited
}

// ExitStatus returns p's exit status. It is only meaningful once p has
// exited.
func (p *Process) ExitStatus() int32 {
	return p.exitStatus.Load()
}

// ParentSignals returns the number of times p has signalled its parent's
// wait. It is never more than 1.
func (p *Process) ParentSignals() int32 {
	return p.parentSignals.Load()
}

// Stopped returns true if p should not execute further: it has exited or the
// kernel has halted.
func (p *Process) Stopped() bool {
	return p.Exited() || p.k.IsHalted()
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("[%d] %s", p.pid, p.name)
}
