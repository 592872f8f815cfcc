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

package userprog

import (
	"context"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/usermem"
)

// Halt implements the halt syscall. It powers the kernel off; the caller
// stops without an exit status.
func Halt(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	p.Kernel().PowerOff()
	return 0, nil
}

// Exit implements the exit syscall.
func Exit(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	p.Exit(ctx, args[0].Int())
	return 0, nil
}

// Exec implements the exec syscall. It returns the new process's ID.
func Exec(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	// The whole command line must fit in one page, like the argument
	// block the loader builds.
	cmdline, err := usermem.CopyInString(p.MemoryManager(), args[0].Pointer(), hostarch.PageSize-1)
	if err != nil {
		return 0, err
	}
	k := p.Kernel()
	l := k.Loader()
	if l == nil {
		return 0, linuxerr.ENOEXEC
	}
	child, err := l.Spawn(ctx, k, p, cmdline)
	if err != nil {
		return 0, err
	}
	return uintptr(child.PID()), nil
}

// Wait implements the wait syscall.
func Wait(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	status, err := p.Wait(ctx, kernel.ThreadID(args[0].Int()))
	if err != nil {
		return 0, err
	}
	return arch.IntReturn(status), nil
}
