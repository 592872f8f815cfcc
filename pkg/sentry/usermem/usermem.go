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

// Package usermem governs access to user memory from a system call.
//
// Every word a user process hands the kernel is adversarial until proven
// otherwise. The checks in this package prove that a user address, or every
// page of a user region, is safe to dereference for the current process. A
// failed check yields a *Fault. A *Fault is never an ordinary error result:
// callers propagate it unchanged and the syscall dispatcher terminates the
// process with status -1.
package usermem

import (
	"bytes"
	"errors"
	"fmt"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// AddressSpace is the view of a process's page directory needed to validate
// and copy user memory. *mm.MemoryManager implements it.
type AddressSpace interface {
	// Lookup returns the permissions of the page containing addr, and
	// whether that page is present.
	Lookup(addr hostarch.Addr) (hostarch.AccessType, bool)

	// CopyIn copies from user memory at addr into dst.
	CopyIn(addr hostarch.Addr, dst []byte, opts mm.IOOpts) (int, error)

	// CopyOut copies src into user memory at addr.
	CopyOut(addr hostarch.Addr, src []byte, opts mm.IOOpts) (int, error)
}

// FaultReason says why an address was rejected.
type FaultReason int

// Fault reasons.
const (
	// FaultNull is the null pointer.
	FaultNull FaultReason = iota

	// FaultKernel is an address at or above hostarch.KernelBase.
	FaultKernel

	// FaultUnmapped is an address with no present mapping.
	FaultUnmapped

	// FaultProtection is a present mapping that does not permit the
	// access.
	FaultProtection

	// FaultWrap is a region whose end wraps around the address space.
	FaultWrap
)

var faultReasons = [...]string{
	FaultNull:       "null pointer",
	FaultKernel:     "kernel address",
	FaultUnmapped:   "unmapped address",
	FaultProtection: "protection violation",
	FaultWrap:       "region wraps",
}

// String implements fmt.Stringer.String.
func (r FaultReason) String() string {
	if int(r) < len(faultReasons) {
		return faultReasons[r]
	}
	return fmt.Sprintf("FaultReason(%d)", int(r))
}

// Fault is a user fault: the process supplied an address that the kernel must
// not touch.
type Fault struct {
	// Addr is the offending address.
	Addr hostarch.Addr

	// Access is the access that was attempted.
	Access hostarch.AccessType

	// Reason is why Addr was rejected.
	Reason FaultReason
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("user fault: %s at %v (%s)", f.Reason, f.Addr, f.Access)
}

// AsFault returns the *Fault carried by err, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CheckAddr checks that the byte at addr may be accessed with at.
func CheckAddr(as AddressSpace, addr hostarch.Addr, at hostarch.AccessType) error {
	switch {
	case addr == 0:
		return &Fault{Addr: addr, Access: at, Reason: FaultNull}
	case hostarch.IsKernelAddress(addr):
		return &Fault{Addr: addr, Access: at, Reason: FaultKernel}
	}
	perms, ok := as.Lookup(addr)
	if !ok {
		return &Fault{Addr: addr, Access: at, Reason: FaultUnmapped}
	}
	if !perms.SupersetOf(at) {
		return &Fault{Addr: addr, Access: at, Reason: FaultProtection}
	}
	return nil
}

// CheckRange checks every page touched by [addr, addr+n). An empty region is
// always valid and touches no memory.
func CheckRange(as AddressSpace, addr hostarch.Addr, n uint64, at hostarch.AccessType) error {
	if n == 0 {
		return nil
	}
	ar, ok := addr.ToRange(n)
	if !ok {
		return &Fault{Addr: addr, Access: at, Reason: FaultWrap}
	}
	// The first byte is checked at its own address so that a null pointer
	// is reported as such rather than as an unmapped page.
	if err := CheckAddr(as, addr, at); err != nil {
		return err
	}
	first, last := ar.Pages()
	for vpn := first + 1; vpn <= last; vpn++ {
		if err := CheckAddr(as, hostarch.PageFromNumber(vpn), at); err != nil {
			return err
		}
	}
	return nil
}

// CheckWords checks a frame of count consecutive words starting at addr. Each
// word is checked individually, every byte of it included.
func CheckWords(as AddressSpace, addr hostarch.Addr, count int) error {
	for i := 0; i < count; i++ {
		w := addr + hostarch.Addr(i*sysno.WordSize)
		if w < addr {
			return &Fault{Addr: addr, Access: hostarch.Read, Reason: FaultWrap}
		}
		if err := CheckRange(as, w, sysno.WordSize, hostarch.Read); err != nil {
			return err
		}
	}
	return nil
}

// CopyIn checks and then copies len(dst) bytes of user memory at addr.
func CopyIn(as AddressSpace, addr hostarch.Addr, dst []byte) error {
	if err := CheckRange(as, addr, uint64(len(dst)), hostarch.Read); err != nil {
		return err
	}
	if n, err := as.CopyIn(addr, dst, mm.IOOpts{}); err != nil {
		// The page went away between the check and the copy.
		return &Fault{Addr: addr + hostarch.Addr(n), Access: hostarch.Read, Reason: FaultUnmapped}
	}
	return nil
}

// CopyOut checks and then copies src to user memory at addr.
func CopyOut(as AddressSpace, addr hostarch.Addr, src []byte) error {
	if err := CheckRange(as, addr, uint64(len(src)), hostarch.Write); err != nil {
		return err
	}
	if n, err := as.CopyOut(addr, src, mm.IOOpts{}); err != nil {
		return &Fault{Addr: addr + hostarch.Addr(n), Access: hostarch.Write, Reason: FaultUnmapped}
	}
	return nil
}

// CopyInWord checks and reads the frame word at addr.
func CopyInWord(as AddressSpace, addr hostarch.Addr) (uint32, error) {
	var b [sysno.WordSize]byte
	if err := CopyIn(as, addr, b[:]); err != nil {
		return 0, err
	}
	return sysno.ByteOrder.Uint32(b[:]), nil
}

// CopyInString copies a NUL-terminated string from user memory at addr. Each
// page is checked before it is read. If no NUL appears in the first maxlen+1
// bytes, CopyInString returns the bytes read so far and ENAMETOOLONG.
func CopyInString(as AddressSpace, addr hostarch.Addr, maxlen int) (string, error) {
	var buf []byte
	limit := maxlen + 1
	for len(buf) < limit {
		cur := addr + hostarch.Addr(len(buf))
		if cur < addr {
			return "", &Fault{Addr: addr, Access: hostarch.Read, Reason: FaultWrap}
		}
		if err := CheckAddr(as, cur, hostarch.Read); err != nil {
			return "", err
		}
		chunk := hostarch.PageSize - int(cur.PageOffset())
		if chunk > limit-len(buf) {
			chunk = limit - len(buf)
		}
		b := make([]byte, chunk)
		if n, err := as.CopyIn(cur, b, mm.IOOpts{}); err != nil {
			return "", &Fault{Addr: cur + hostarch.Addr(n), Access: hostarch.Read, Reason: FaultUnmapped}
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			return string(append(buf, b[:i]...)), nil
		}
		buf = append(buf, b...)
	}
	return string(buf[:maxlen]), linuxerr.ENAMETOOLONG
}
