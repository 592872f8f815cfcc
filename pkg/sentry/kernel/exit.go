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

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/log"
)

// ExitLine returns the line written to the console when a process exits.
func ExitLine(name string, status int32) string {
	return fmt.Sprintf("%s: exit(%d)\n", name, status)
}

// Exit terminates p with the given status. Only the first call has any
// effect:
//
//   - the status is latched;
//   - the exit line is written to the console;
//   - every open descriptor is closed;
//   - a live parent's wait is signalled, once;
//   - children are orphaned;
//   - p is marked exited.
func (p *Process) Exit(ctx context.Context, status int32) {
	p.exitOnce.Do(func() {
		p.exit(ctx, status)
	})
}

func (p *Process) exit(ctx context.Context, status int32) {
	p.exitStatus.Store(status)

	line := ExitLine(p.name, status)
	if _, err := p.k.console.Write([]byte(line)); err != nil {
		log.Warningf("%v: writing exit line: %v", p, err)
	}
	log.Infof("%v exited with status %d", p, status)

	// Cleanup must run even if the caller's context is done.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := p.WithFDTable(cleanupCtx, func(t *FDTable) error {
		return t.RemoveAll(cleanupCtx)
	}); err != nil {
		log.Warningf("%v: closing descriptors: %v", p, err)
	}

	p.k.mu.Lock()
	if parent := p.parent; parent != nil && !parent.Exited() {
		p.parentSignals.Add(1)
		close(p.waitCh)
	} else {
		// Nobody can wait for p any more.
		p.parent = nil
		delete(p.k.processes, p.pid)
	}
	for pid, child := range p.children {
		child.parent = nil
		if child.Exited() {
			delete(p.k.processes, pid)
		}
		delete(p.children, pid)
	}
	p.k.mu.Unlock()

	close(p.exited)
}

// Wait waits for the child process pid to exit and returns its exit status.
// Each child can be waited for at most once. Wait returns ECHILD if pid is not
// an unwaited child of p, EINTR if the kernel halts, and ctx.Err() if ctx is
// done first. An interrupted Wait does not consume the child.
func (p *Process) Wait(ctx context.Context, pid ThreadID) (int32, error) {
	p.k.mu.Lock()
	child, ok := p.children[pid]
	if !ok || child.reaped {
		p.k.mu.Unlock()
		return -1, linuxerr.ECHILD
	}
	child.reaped = true
	p.k.mu.Unlock()

	var err error
	select {
	case <-child.waitCh:
	case <-p.k.halted:
		err = linuxerr.EINTR
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		p.k.mu.Lock()
		child.reaped = false
		p.k.mu.Unlock()
		return -1, err
	}
	// The child closes waitCh before it finishes exiting.
	<-child.exited

	p.k.mu.Lock()
	delete(p.children, pid)
	delete(p.k.processes, pid)
	p.k.mu.Unlock()
	return child.ExitStatus(), nil
}
