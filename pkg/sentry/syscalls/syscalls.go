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

// Package syscalls is the interface from user programs to the kernel. The
// Dispatcher decodes a trapped syscall frame, validates it, and runs the
// implementation from a kernel.SyscallTable.
//
// Note that the stubs in this package may merely provide the interface, not
// the actual implementation. It just makes writing syscall tables
// straightforward.
package syscalls

import (
	"trapgate.dev/trapgate/pkg/sentry/kernel"
)

// Supported returns a syscall that stores no result.
func Supported(name string, fn kernel.SyscallFn, args ...kernel.ArgKind) kernel.Syscall {
	return kernel.Syscall{
		Name:      name,
		Args:      args,
		Supported: true,
		Fn:        fn,
	}
}

// Returning returns a syscall that stores its result, or fail if it fails.
func Returning(name string, fail int32, fn kernel.SyscallFn, args ...kernel.ArgKind) kernel.Syscall {
	return kernel.Syscall{
		Name:      name,
		Args:      args,
		Returns:   true,
		Fail:      fail,
		Supported: true,
		Fn:        fn,
	}
}

// Unimplemented returns a syscall that is known but not provided. Invoking it
// terminates the caller.
func Unimplemented(name, note string, args ...kernel.ArgKind) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Args: args,
		Note: note,
	}
}
