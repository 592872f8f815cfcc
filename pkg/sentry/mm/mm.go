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

// Package mm implements a process's user address space: the page directory
// consulted by the address validator and the backing memory for user pages.
//
// Lock order:
//
//	fs serializer
//		mm.MemoryManager.mu
package mm

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
)

// btreeDegree is the branching factor of the page tree.
const btreeDegree = 8

// page is a single present user page.
type page struct {
	vpn   uint64
	perms hostarch.AccessType
	data  [hostarch.PageSize]byte
}

func pageLess(a, b *page) bool {
	return a.vpn < b.vpn
}

// IOOpts contains options applicable to all IO methods.
type IOOpts struct {
	// If IgnorePermissions is true, page protections are ignored. Only the
	// loader uses this, to populate read-only pages.
	IgnorePermissions bool
}

// MemoryManager implements a user address space.
//
// It is safe for concurrent use.
type MemoryManager struct {
	// mu protects pages.
	mu sync.RWMutex

	// pages is the set of present pages, ordered by virtual page number.
	pages *btree.BTreeG[*page]
}

// NewMemoryManager returns an empty address space.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		pages: btree.NewG(btreeDegree, pageLess),
	}
}

// Map makes the pages spanning ar present with the given permissions. Pages
// that are already present keep their contents but take the new permissions.
// Newly mapped pages are zero-filled.
func (mm *MemoryManager) Map(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	if !ar.WellFormed() || ar.Length() == 0 {
		return linuxerr.EINVAL
	}
	first, last := ar.Pages()
	if first == 0 || hostarch.IsKernelAddress(ar.End-1) {
		// Neither kernel pages nor the null page can ever be mapped for
		// user access.
		return linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	for vpn := first; vpn <= last; vpn++ {
		if p, ok := mm.pages.Get(&page{vpn: vpn}); ok {
			p.perms = perms
			continue
		}
		mm.pages.ReplaceOrInsert(&page{vpn: vpn, perms: perms})
	}
	return nil
}

// Unmap removes every page touched by ar.
func (mm *MemoryManager) Unmap(ar hostarch.AddrRange) {
	if !ar.WellFormed() || ar.Length() == 0 {
		return
	}
	first, last := ar.Pages()

	mm.mu.Lock()
	defer mm.mu.Unlock()
	for vpn := first; vpn <= last; vpn++ {
		mm.pages.Delete(&page{vpn: vpn})
	}
}

// Lookup returns the permissions of the page containing addr. ok is false if
// the page is not present.
func (mm *MemoryManager) Lookup(addr hostarch.Addr) (perms hostarch.AccessType, ok bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	p, ok := mm.pages.Get(&page{vpn: addr.PageNumber()})
	if !ok {
		return hostarch.NoAccess, false
	}
	return p.perms, true
}

// NumPages returns the number of present pages.
func (mm *MemoryManager) NumPages() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.pages.Len()
}

// Release drops every page. The address space is empty, but usable,
// afterwards.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pages.Clear(false)
}

// CopyIn copies len(dst) bytes from the memory mapped at addr to dst. It
// returns the number of bytes copied. If the number of bytes copied is
// < len(dst), it returns a non-nil error explaining why.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte, opts IOOpts) (int, error) {
	return mm.withPages(addr, len(dst), hostarch.Read, opts, func(b []byte, off int) {
		copy(dst[off:], b)
	})
}

// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
// returns the number of bytes copied. If the number of bytes copied is
// < len(src), it returns a non-nil error explaining why.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte, opts IOOpts) (int, error) {
	return mm.withPages(addr, len(src), hostarch.Write, opts, func(b []byte, off int) {
		copy(b, src[off:])
	})
}

// withPages calls fn for each page-bounded chunk of [addr, addr+n), in order,
// stopping at the first page that is not present or does not permit at.
func (mm *MemoryManager) withPages(addr hostarch.Addr, n int, at hostarch.AccessType, opts IOOpts, fn func(b []byte, off int)) (int, error) {
	if n == 0 {
		return 0, nil
	}
	if _, ok := addr.AddLength(uint64(n)); !ok {
		return 0, linuxerr.EFAULT
	}

	mm.mu.RLock()
	defer mm.mu.RUnlock()
	done := 0
	for done < n {
		cur := addr + hostarch.Addr(done)
		p, ok := mm.pages.Get(&page{vpn: cur.PageNumber()})
		if !ok || (!opts.IgnorePermissions && !p.perms.SupersetOf(at)) {
			return done, linuxerr.EFAULT
		}
		off := int(cur.PageOffset())
		chunk := hostarch.PageSize - off
		if chunk > n-done {
			chunk = n - done
		}
		fn(p.data[off:off+chunk], done)
		done += chunk
	}
	return done, nil
}

// String returns a /proc/[pid]/maps style description of the address space.
// Adjacent pages with equal permissions are merged.
func (mm *MemoryManager) String() string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	var b bytes.Buffer
	var (
		start, end uint64
		perms      hostarch.AccessType
		open       bool
	)
	flush := func() {
		if open {
			fmt.Fprintf(&b, "%08x-%08x %s\n", uintptr(hostarch.PageFromNumber(start)), uintptr(hostarch.PageFromNumber(end)), perms)
		}
	}
	mm.pages.Ascend(func(p *page) bool {
		if open && p.vpn == end && p.perms == perms {
			end++
			return true
		}
		flush()
		start, end, perms, open = p.vpn, p.vpn+1, p.perms, true
		return true
	})
	flush()
	return b.String()
}
