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

// bounceSize is the largest kernel buffer a single read or write copies
// through at once.
const bounceSize = 16 * hostarch.PageSize

// Read implements the read syscall.
func Read(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	// The whole buffer is checked before any device or file is touched.
	as := p.MemoryManager()
	if err := usermem.CheckRange(as, addr, uint64(size), hostarch.Write); err != nil {
		return 0, err
	}

	switch fd {
	case kernel.StdinFD:
		n, err := readConsole(p, addr, size)
		if err != nil {
			return 0, err
		}
		return uintptr(n), nil
	case kernel.StdoutFD:
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
			n, err := f.Read(ctx, chunk)
			if n > 0 {
				if cerr := usermem.CopyOut(as, addr+hostarch.Addr(total), chunk[:n]); cerr != nil {
					return cerr
				}
				total += uint(n)
			}
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

// readConsole reads up to size bytes of console input into addr. It stops
// early only at end of input.
func readConsole(p *kernel.Process, addr hostarch.Addr, size uint) (uint, error) {
	con := p.Kernel().Console()
	as := p.MemoryManager()
	buf := make([]byte, min(size, bounceSize))
	var total uint
	for total < size {
		chunk := buf[:min(size-total, uint(len(buf)))]
		n, err := con.Read(chunk)
		if n > 0 {
			if cerr := usermem.CopyOut(as, addr+hostarch.Addr(total), chunk[:n]); cerr != nil {
				return total, cerr
			}
			total += uint(n)
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
