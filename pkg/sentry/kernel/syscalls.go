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
	"errors"
	"fmt"
	"sort"
	"sync"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/sentry/arch"
)

// ArgKind describes how a syscall argument is interpreted.
type ArgKind int

// Argument kinds.
const (
	// ArgInt is a signed integer.
	ArgInt ArgKind = iota

	// ArgSize is an unsigned size or offset.
	ArgSize

	// ArgPointer is a user buffer address.
	ArgPointer

	// ArgString is the address of a NUL-terminated user string.
	ArgString

	// ArgFD is a file descriptor.
	ArgFD
)

var argKindNames = [...]string{
	ArgInt:     "int",
	ArgSize:    "size",
	ArgPointer: "ptr",
	ArgString:  "string",
	ArgFD:      "fd",
}

// String implements fmt.Stringer.String.
func (a ArgKind) String() string {
	if int(a) >= 0 && int(a) < len(argKindNames) {
		return argKindNames[a]
	}
	return fmt.Sprintf("ArgKind(%d)", int(a))
}

// SyscallFn is a syscall implementation. The returned value is stored in the
// caller's result slot if the syscall returns one.
//
// An error that carries a *usermem.Fault, or one built by Kill, terminates the
// caller with status -1. Any other error stores the syscall's Fail value.
type SyscallFn func(ctx context.Context, p *Process, args arch.SyscallArguments) (uintptr, error)

// Syscall describes one system call.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Args describe the arguments, in frame order.
	Args []ArgKind

	// Returns is true if the syscall stores a result.
	Returns bool

	// Fail is the value stored when the syscall fails.
	Fail int32

	// Supported is false for syscalls that are known but not provided.
	// Invoking one is treated like an unknown syscall.
	Supported bool

	// Note describes the syscall's behavior for listings.
	Note string

	// Fn is the implementation. It is nil iff !Supported.
	Fn SyscallFn
}

// Arity returns the number of argument words the syscall reads.
func (s *Syscall) Arity() int {
	return len(s.Args)
}

// SyscallTable is a mapping of syscall numbers to implementations.
type SyscallTable struct {
	// Name identifies the table.
	Name string

	// Table is the set of syscalls. It must not be modified after Init.
	Table map[sysno.Sysno]Syscall

	// lookup is a dense copy of Table built by Init.
	lookup []*Syscall
}

// Init builds the lookup array and checks the table for consistency.
func (t *SyscallTable) Init() error {
	hi := sysno.Sysno(0)
	for n, s := range t.Table {
		if s.Supported != (s.Fn != nil) {
			return fmt.Errorf("syscall %d (%s): Supported=%t with Fn=%v", n, s.Name, s.Supported, s.Fn != nil)
		}
		if len(s.Args) > sysno.MaxArgs {
			return fmt.Errorf("syscall %d (%s): %d args exceeds %d", n, s.Name, len(s.Args), sysno.MaxArgs)
		}
		if n > hi {
			hi = n
		}
	}
	t.lookup = make([]*Syscall, hi+1)
	for n := range t.Table {
		s := t.Table[n]
		t.lookup[n] = &s
	}
	return nil
}

// Lookup returns the syscall numbered n, if the table has it.
func (t *SyscallTable) Lookup(n sysno.Sysno) (*Syscall, bool) {
	if uint64(n) >= uint64(len(t.lookup)) || t.lookup[n] == nil {
		return nil, false
	}
	return t.lookup[n], true
}

// Numbers returns the syscall numbers in the table in increasing order.
func (t *SyscallTable) Numbers() []sysno.Sysno {
	nums := make([]sysno.Sysno, 0, len(t.Table))
	for n := range t.Table {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

var (
	tablesMu  sync.Mutex
	allTables []*SyscallTable
)

// RegisterSyscallTable initializes and registers t. It panics if t is
// inconsistent or its name is taken.
func RegisterSyscallTable(t *SyscallTable) {
	if err := t.Init(); err != nil {
		panic(fmt.Sprintf("syscall table %q: %v", t.Name, err))
	}
	tablesMu.Lock()
	defer tablesMu.Unlock()
	for _, o := range allTables {
		if o.Name == t.Name {
			panic(fmt.Sprintf("syscall table %q registered twice", t.Name))
		}
	}
	allTables = append(allTables, t)
}

// LookupSyscallTable returns the registered table with the given name.
func LookupSyscallTable(name string) (*SyscallTable, bool) {
	tablesMu.Lock()
	defer tablesMu.Unlock()
	for _, t := range allTables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// SyscallTables returns all registered tables.
func SyscallTables() []*SyscallTable {
	tablesMu.Lock()
	defer tablesMu.Unlock()
	return append([]*SyscallTable(nil), allTables...)
}

// KillError terminates the calling process with status -1. Syscalls return
// one for misuse that the process may not survive.
type KillError struct {
	Reason string
}

// Error implements error.Error.
func (e *KillError) Error() string {
	return "process killed: " + e.Reason
}

// Kill returns a *KillError.
func Kill(format string, v ...any) error {
	return &KillError{Reason: fmt.Sprintf(format, v...)}
}

// IsKill returns true if err carries a *KillError.
func IsKill(err error) bool {
	var k *KillError
	return errors.As(err, &k)
}
