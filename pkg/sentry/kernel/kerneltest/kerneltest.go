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

// Package kerneltest provides kernels and processes for tests.
package kerneltest

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/sentry/fs"
	"trapgate.dev/trapgate/pkg/sentry/fsimpl/memfs"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/mm"
)

// Test address space layout.
const (
	// DataBase is the first data page of a test process.
	DataBase hostarch.Addr = 0x08048000

	// DataPages is the number of writable data pages mapped at DataBase.
	DataPages = 4

	// ReadOnlyPage is a read-only page mapped just past the data pages.
	ReadOnlyPage = DataBase + DataPages*hostarch.PageSize

	// StackPage is the stack page, just below the kernel.
	StackPage = hostarch.KernelBase - hostarch.PageSize

	// SP is a stack pointer with room for a full frame.
	SP = StackPage + hostarch.PageSize/2
)

// Buffer is a bytes.Buffer safe for concurrent use.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.Write.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Options configure New.
type Options struct {
	// Limits default to kernel.DefaultLimits.
	Limits *kernel.Limits

	// Filesystem defaults to an empty memfs.
	Filesystem fs.Filesystem

	// Input is console input.
	Input string

	// Loader is the exec collaborator.
	Loader kernel.Loader
}

// New returns an initialized kernel and its console output.
func New(t testing.TB, opts Options) (*kernel.Kernel, *Buffer) {
	t.Helper()
	limits := kernel.DefaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	if opts.Filesystem == nil {
		opts.Filesystem = memfs.New(memfs.Options{})
	}
	out := &Buffer{}
	k := new(kernel.Kernel)
	if err := k.Init(kernel.InitKernelArgs{
		Filesystem: opts.Filesystem,
		Console:    kernel.NewConsole(strings.NewReader(opts.Input), out),
		Loader:     opts.Loader,
		Limits:     limits,
	}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		k.PowerOff()
		k.WaitIdle()
		k.Release(context.Background())
	})
	return k, out
}

// AddressSpace returns the standard test address space: DataPages writable
// pages at DataBase, a read-only page after them, and a stack page.
func AddressSpace(t testing.TB) *mm.MemoryManager {
	t.Helper()
	as := mm.NewMemoryManager()
	for _, m := range []struct {
		start hostarch.Addr
		pages uint64
		perms hostarch.AccessType
	}{
		{DataBase, DataPages, hostarch.ReadWrite},
		{ReadOnlyPage, 1, hostarch.Read},
		{StackPage, 1, hostarch.ReadWrite},
	} {
		ar, ok := m.start.ToRange(m.pages * hostarch.PageSize)
		if !ok {
			t.Fatalf("bad range at %v", m.start)
		}
		if err := as.Map(ar, m.perms); err != nil {
			t.Fatalf("Map(%v): %v", ar, err)
		}
	}
	return as
}

// NewProcess creates a process with the standard test address space.
func NewProcess(t testing.TB, k *kernel.Kernel, parent *kernel.Process, name string) *kernel.Process {
	t.Helper()
	return k.NewProcess(parent, name, []string{name}, AddressSpace(t))
}

// WriteBytes writes b to p's memory at addr, ignoring page permissions.
func WriteBytes(t testing.TB, p *kernel.Process, addr hostarch.Addr, b []byte) {
	t.Helper()
	if _, err := p.MemoryManager().CopyOut(addr, b, mm.IOOpts{IgnorePermissions: true}); err != nil {
		t.Fatalf("writing %d bytes at %v: %v", len(b), addr, err)
	}
}

// WriteString writes s and a terminating NUL to p's memory at addr.
func WriteString(t testing.TB, p *kernel.Process, addr hostarch.Addr, s string) {
	t.Helper()
	WriteBytes(t, p, addr, append([]byte(s), 0))
}

// ReadBytes reads n bytes of p's memory at addr.
func ReadBytes(t testing.TB, p *kernel.Process, addr hostarch.Addr, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := p.MemoryManager().CopyIn(addr, b, mm.IOOpts{IgnorePermissions: true}); err != nil {
		t.Fatalf("reading %d bytes at %v: %v", n, addr, err)
	}
	return b
}

// PushFrame writes a syscall frame at sp: the syscall number followed by
// args.
func PushFrame(t testing.TB, p *kernel.Process, sp hostarch.Addr, nr sysno.Sysno, args ...uint32) {
	t.Helper()
	b := make([]byte, sysno.WordSize*(1+len(args)))
	sysno.ByteOrder.PutUint32(b, uint32(nr))
	for i, a := range args {
		sysno.ByteOrder.PutUint32(b[sysno.WordSize*(i+1):], a)
	}
	WriteBytes(t, p, sp, b)
}
