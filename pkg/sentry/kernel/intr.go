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

	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/arch"
)

// TrapHandler handles a trap raised by a user process.
type TrapHandler interface {
	HandleTrap(ctx context.Context, p *Process, f *arch.TrapFrame)
}

// TrapHandlerFunc adapts a function to TrapHandler.
type TrapHandlerFunc func(ctx context.Context, p *Process, f *arch.TrapFrame)

// HandleTrap implements TrapHandler.HandleTrap.
func (fn TrapHandlerFunc) HandleTrap(ctx context.Context, p *Process, f *arch.TrapFrame) {
	fn(ctx, p, f)
}

type intrEntry struct {
	name    string
	dpl     int
	handler TrapHandler
}

type interruptTable struct {
	mu      sync.RWMutex
	entries [arch.NumVectors]*intrEntry
}

// RegisterTrapHandler installs handler for vector. dpl is the lowest privilege
// level allowed to raise the vector; user traps require arch.UserDPL.
//
// Registering a vector twice is a kernel bug and panics.
func (k *Kernel) RegisterTrapHandler(vec arch.Vector, dpl int, name string, handler TrapHandler) {
	if dpl < 0 || dpl > arch.UserDPL {
		panic(fmt.Sprintf("invalid DPL %d for vector %#x", dpl, uint8(vec)))
	}
	k.intr.mu.Lock()
	defer k.intr.mu.Unlock()
	if e := k.intr.entries[vec]; e != nil {
		panic(fmt.Sprintf("vector %#x already registered to %q", uint8(vec), e.name))
	}
	k.intr.entries[vec] = &intrEntry{name: name, dpl: dpl, handler: handler}
	log.Debugf("Registered trap vector %#x (%s) dpl=%d", uint8(vec), name, dpl)
}

// Trap delivers a user trap on f.Vector to its handler. A vector that is not
// registered, or that user code may not raise, terminates p with status -1.
func (k *Kernel) Trap(ctx context.Context, p *Process, f *arch.TrapFrame) {
	k.intr.mu.RLock()
	e := k.intr.entries[f.Vector]
	k.intr.mu.RUnlock()
	if e == nil || e.dpl < arch.UserDPL {
		log.Warningf("[%d] %s: protection fault on trap %v", p.pid, p.name, f)
		p.Exit(ctx, -1)
		return
	}
	e.handler.HandleTrap(ctx, p, f)
}
