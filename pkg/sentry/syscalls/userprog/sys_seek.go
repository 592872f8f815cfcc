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
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
)

// Seek implements the seek syscall. Seeking an unknown descriptor does
// nothing.
func Seek(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	pos := int64(args[1].SizeT())
	return 0, p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		if f := t.Get(fd); f != nil {
			f.Seek(pos)
		}
		return nil
	})
}

// Tell implements the tell syscall.
func Tell(ctx context.Context, p *kernel.Process, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	var pos int64
	if err := p.WithFDTable(ctx, func(t *kernel.FDTable) error {
		f := t.Get(fd)
		if f == nil {
			return linuxerr.EBADF
		}
		pos = f.Tell()
		return nil
	}); err != nil {
		return 0, err
	}
	if pos > 1<<31-1 {
		return 0, linuxerr.EFBIG
	}
	return arch.IntReturn(int32(pos)), nil
}
