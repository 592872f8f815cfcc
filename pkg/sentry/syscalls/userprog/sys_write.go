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

// Write implements the write syscall. Console writes emit at most
// ConsoleChunk bytes and return the number emitted.
func Write(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	as := p.MemoryManager()
	if err := usermem.CheckRange(as, addr, uint64(size), hostarch.Read); err != nil {
		return 0, err
	}

	switch fd {
	case kernel.StdoutFD:
		n := min(size, uint(p.Kernel().Limits().ConsoleChunk))
		if n == 0 {
			return 0, nil
		}
		buf := make([]byte, n)
		if err := usermem.CopyIn(as, addr, buf); err != nil {
			return 0, err
		}
		if _, err := p.Kernel().Console().Write(buf); err != nil {
			return 0, linuxerr.EIO
		}
		return uintptr(n), nil
	case kernel.StdinFD:
		return 0, linuxerr.EBADF
	}

	var total uint
	if err := p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		f := t.Get(fd)
		if f == nil {
			return linuxerr.EBADF
		}
		buf := make([]byte, min(size, bounceSize))
		for total < size {
			chunk := buf[:min(size-total, uint(len(buf)))]
			if err := usermem.CopyIn(as, addr+hostarch.Addr(total), chunk); err != nil {
				return err
			}
			n, err := f.Write(ctx, chunk)
			total += uint(n)
			if err != nil {
				if total > 0 {
					return nil
				}
				return err
			}
			if n < len(chunk) {
				break
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	return uintptr(total), nil
}
