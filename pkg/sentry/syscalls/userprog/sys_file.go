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
	"trapgate.dev/trapgate/pkg/sentry/fs"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/usermem"
)

// copyInName copies in a file name. A name that is empty or longer than the
// kernel's NameMax is fatal to the caller.
func copyInName(p *kernel.Process, addr hostarch.Addr) (string, error) {
	nameMax := p.Kernel().Limits().NameMax
	name, err := usermem.CopyInString(p.MemoryManager(), addr, nameMax)
	switch {
	case linuxerr.Equals(linuxerr.ENAMETOOLONG, err):
		return "", kernel.Kill("file name longer than %d bytes", nameMax)
	case err != nil:
		return "", err
	case name == "":
		return "", kernel.Kill("empty file name")
	}
	return name, nil
}

// Create implements the create syscall.
func Create(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	name, err := copyInName(p, args[0].Pointer())
	if err != nil {
		return 0, err
	}
	size := int64(args[1].SizeT())
	k := p.Kernel()
	if err := k.FS().Do(ctx, func() error {
		return k.Filesystem().Create(ctx, name, size)
	}); err != nil {
		return 0, err
	}
	return arch.BoolReturn(true), nil
}

// Remove implements the remove syscall. Open descriptors for the file remain
// usable.
func Remove(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	name, err := copyInName(p, args[0].Pointer())
	if err != nil {
		return 0, err
	}
	k := p.Kernel()
	if err := k.FS().Do(ctx, func() error {
		return k.Filesystem().Remove(ctx, name)
	}); err != nil {
		return 0, err
	}
	return arch.BoolReturn(true), nil
}

// Open implements the open syscall. A process may hold at most one
// descriptor per file.
func Open(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	name, err := copyInName(p, args[0].Pointer())
	if err != nil {
		return 0, err
	}
	var fd int32
	err = p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		f, err := p.Kernel().Filesystem().Open(ctx, name)
		if err != nil {
			return err
		}
		if t.Contains(f.ID()) {
			f.Close(ctx)
			return linuxerr.EBUSY
		}
		fd, err = t.NewFD(f)
		if err != nil {
			f.Close(ctx)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return arch.IntReturn(fd), nil
}

// Filesize implements the filesize syscall.
func Filesize(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	var size int64
	if err := p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		f := t.Get(fd)
		if f == nil {
			return linuxerr.EBADF
		}
		var err error
		size, err = f.Length(ctx)
		return err
	}); err != nil {
		return 0, err
	}
	if size > 1<<31-1 {
		return 0, linuxerr.EFBIG
	}
	return arch.IntReturn(int32(size)), nil
}

// Close implements the close syscall. Closing a descriptor the process does
// not hold is fatal.
func Close(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	var f fs.File
	if err := p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		var ok bool
		if f, ok = t.Remove(fd); !ok {
			return kernel.Kill("close of unknown descriptor %d", fd)
		}
		return f.Close(ctx)
	}); err != nil {
		return 0, err
	}
	return 0, nil
}
