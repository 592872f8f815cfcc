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

package loader

import (
	"fmt"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// Address space layout.
const (
	// DataBase is where the data segment starts.
	DataBase hostarch.Addr = 0x08048000

	// StackBase is the bottom of the single stack page.
	StackBase = hostarch.UserStackTop - hostarch.PageSize

	// MaxCmdline is the longest command line that fits on the stack page
	// alongside the frame area.
	MaxCmdline = hostarch.PageSize / 2

	// frameSpace is the room reserved below the command line for syscall
	// frames.
	frameSpace = 16 * sysno.WordSize
)

// Segment is a mapped region of a program's address space.
type Segment struct {
	// Range is page aligned.
	Range hostarch.AddrRange

	// Perms are the access permissions.
	Perms hostarch.AccessType

	// Contents are the initial bytes, written at Range.Start.
	Contents []byte
}

// Image is a program laid out in memory.
type Image struct {
	// Program is the program the image was built from.
	Program *Program

	// Labels are the data addresses.
	Labels map[string]hostarch.Addr

	// Segments are the data segments. The stack is not included.
	Segments []Segment
}

// Layout places p's data. Writable data comes first, starting at DataBase;
// read-only data follows on its own pages.
func Layout(p *Program) (*Image, error) {
	img := &Image{
		Program: p,
		Labels:  make(map[string]hostarch.Addr),
	}
	next := DataBase
	for _, ro := range []bool{false, true} {
		var contents []byte
		start := next
		for i := range p.Data {
			d := &p.Data[i]
			if d.ReadOnly != ro {
				continue
			}
			b, err := d.Bytes()
			if err != nil {
				return nil, err
			}
			// Word align each datum.
			for len(contents)%sysno.WordSize != 0 {
				contents = append(contents, 0)
			}
			img.Labels[d.Label] = start + hostarch.Addr(len(contents))
			contents = append(contents, b...)
		}
		if len(contents) == 0 {
			continue
		}
		ar, ok := start.ToRange(uint64(len(contents)))
		if !ok {
			return nil, fmt.Errorf("data segment too large")
		}
		end, ok := ar.End.RoundUp()
		if !ok || hostarch.IsKernelAddress(end-1) || end > StackBase {
			return nil, fmt.Errorf("data segment too large")
		}
		ar.End = end
		perms := hostarch.ReadWrite
		if ro {
			perms = hostarch.Read
		}
		img.Segments = append(img.Segments, Segment{Range: ar, Perms: perms, Contents: contents})
		next = end
	}
	return img, nil
}

// Load builds an address space holding the image, with argv on the stack
// page. It returns the address space, the initial stack pointer, and the
// addresses of the argv strings.
func (img *Image) Load(argv []string) (*mm.MemoryManager, hostarch.Addr, []hostarch.Addr, error) {
	size := 0
	for _, a := range argv {
		size += len(a) + 1
	}
	if size > MaxCmdline {
		return nil, 0, nil, linuxerr.E2BIG
	}

	as := mm.NewMemoryManager()
	for _, s := range img.Segments {
		if err := as.Map(s.Range, s.Perms); err != nil {
			as.Release()
			return nil, 0, nil, err
		}
		if _, err := as.CopyOut(s.Range.Start, s.Contents, mm.IOOpts{IgnorePermissions: true}); err != nil {
			as.Release()
			return nil, 0, nil, err
		}
	}
	stack, _ := StackBase.ToRange(hostarch.PageSize)
	if err := as.Map(stack, hostarch.ReadWrite); err != nil {
		as.Release()
		return nil, 0, nil, err
	}

	// Strings go at the top of the stack page; frames are built below.
	top := hostarch.UserStackTop
	addrs := make([]hostarch.Addr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		top -= hostarch.Addr(len(argv[i]) + 1)
		if _, err := as.CopyOut(top, append([]byte(argv[i]), 0), mm.IOOpts{}); err != nil {
			as.Release()
			return nil, 0, nil, err
		}
		addrs[i] = top
	}
	sp := (top - frameSpace) &^ (sysno.WordSize - 1)
	return as, sp, addrs, nil
}
