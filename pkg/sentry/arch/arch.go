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

// Package arch describes the machine state a trap delivers to the kernel.
package arch

import (
	"fmt"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/hostarch"
)

// Vector is an interrupt vector number.
type Vector uint8

// SyscallVector is the software interrupt vector user programs raise to make
// a system call.
const SyscallVector Vector = 0x30

// NumVectors is the number of interrupt vectors.
const NumVectors = 256

// UserDPL is the descriptor privilege level of user code. A handler
// registered with a lower DPL cannot be raised from user mode.
const UserDPL = 3

// TrapFrame is the saved execution context of a process at the moment it
// trapped into the kernel. It is owned by the trap machinery; the kernel reads
// the stack pointer and writes the result slot.
type TrapFrame struct {
	// Vector is the vector that was raised.
	Vector Vector

	// SP is the user stack pointer at the moment of the trap.
	SP hostarch.Addr

	// Result is the return value slot, delivered back to user space on the
	// trap return path.
	Result uint32
}

// SetReturn stores v in the result slot.
func (f *TrapFrame) SetReturn(v uintptr) {
	f.Result = uint32(v)
}

// Return returns the result slot as a signed value.
func (f *TrapFrame) Return() int32 {
	return int32(f.Result)
}

// String implements fmt.Stringer.String.
func (f *TrapFrame) String() string {
	return fmt.Sprintf("vec=%#x sp=%v eax=%#x", uint8(f.Vector), f.SP, f.Result)
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
//
// Using the accessor methods guarantees that the conversion between types is
// correct, taking into account size and signedness (i.e., zero-extension vs
// signed-extension).
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [sysno.MaxArgs]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(uint32(a.Value))
}

// Bool returns the bool representation of a C boolean argument.
func (a SyscallArgument) Bool() bool {
	return uint32(a.Value) != 0
}

// FromWord builds an argument from a raw frame word.
func FromWord(w uint32) SyscallArgument {
	return SyscallArgument{Value: uintptr(w)}
}

// BoolReturn encodes a C boolean return value.
func BoolReturn(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

// IntReturn encodes a signed return value as it is stored in the result slot.
func IntReturn(v int32) uintptr {
	return uintptr(uint32(v))
}
