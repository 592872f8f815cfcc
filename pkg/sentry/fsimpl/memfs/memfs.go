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

// Package memfs provides an in-memory, flat filesystem.
//
// Files are created with a reserved capacity. Their length is the extent
// actually written, so a file created with 100 bytes of capacity and written
// with 2 bytes has length 2. Writes may grow a file past its reservation as
// long as the filesystem capacity allows.
package memfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/fs"
)

// Name is the name of this filesystem type.
const Name = "memfs"

// DefaultCapacity is the capacity of a filesystem whose Options leave it
// unset.
const DefaultCapacity = 64 << 20

// Options configure a filesystem.
type Options struct {
	// Capacity is the total number of bytes the filesystem may hold,
	// counting reservations. Zero selects DefaultCapacity.
	Capacity int64
}

// filesystem implements fs.Filesystem.
type filesystem struct {
	opts Options

	// nextIno is the next inode number to allocate.
	nextIno atomic.Uint64

	// mu protects the fields below. The kernel already serializes calls,
	// but handles may be used by tests directly.
	mu sync.Mutex

	// names maps names to linked inodes.
	names map[string]*inode

	// used is the number of bytes used or reserved by live inodes.
	used int64
}

// inode is a file.
type inode struct {
	fs  *filesystem
	ino uint64

	// Fields below are protected by fs.mu.

	// data holds the file contents. len(data) is the file length.
	data []byte

	// reserved is the capacity reserved at creation. It is only accounted,
	// never allocated.
	reserved int64

	// links is 1 while the inode is named, 0 once removed.
	links int

	// handles is the number of open handles.
	handles int
}

// footprint returns the number of bytes the inode accounts against the
// filesystem capacity.
//
// Preconditions: fs.mu must be held.
func (i *inode) footprint() int64 {
	if n := int64(len(i.data)); n > i.reserved {
		return n
	}
	return i.reserved
}

// New returns a new empty filesystem.
func New(opts Options) fs.Filesystem {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &filesystem{
		opts:  opts,
		names: make(map[string]*inode),
	}
}

// Name implements fs.Filesystem.Name.
func (mfs *filesystem) Name() string {
	return Name
}

// Create implements fs.Filesystem.Create.
func (mfs *filesystem) Create(ctx context.Context, name string, initialSize int64) error {
	if err := fs.ValidName(name); err != nil {
		return err
	}
	if initialSize < 0 {
		return linuxerr.EINVAL
	}

	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	if _, ok := mfs.names[name]; ok {
		return linuxerr.EEXIST
	}
	if initialSize > mfs.opts.Capacity-mfs.used {
		return linuxerr.ENOSPC
	}
	i := &inode{
		fs:       mfs,
		ino:      mfs.nextIno.Add(1),
		reserved: initialSize,
		links:    1,
	}
	mfs.names[name] = i
	mfs.used += initialSize
	log.Debugf("memfs: created %q ino=%d reserved=%d", name, i.ino, initialSize)
	return nil
}

// Open implements fs.Filesystem.Open.
func (mfs *filesystem) Open(ctx context.Context, name string) (fs.File, error) {
	if err := fs.ValidName(name); err != nil {
		return nil, err
	}

	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	i, ok := mfs.names[name]
	if !ok {
		return nil, linuxerr.ENOENT
	}
	i.handles++
	return &file{inode: i}, nil
}

// Remove implements fs.Filesystem.Remove.
func (mfs *filesystem) Remove(ctx context.Context, name string) error {
	if err := fs.ValidName(name); err != nil {
		return err
	}

	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	i, ok := mfs.names[name]
	if !ok {
		return linuxerr.ENOENT
	}
	delete(mfs.names, name)
	i.links = 0
	i.maybeFreeLocked()
	return nil
}

// Release implements fs.Filesystem.Release.
func (mfs *filesystem) Release(ctx context.Context) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	mfs.names = make(map[string]*inode)
	mfs.used = 0
	return nil
}

// maybeFreeLocked returns an inode's space once it is neither named nor open.
//
// Preconditions: fs.mu must be held.
func (i *inode) maybeFreeLocked() {
	if i.links == 0 && i.handles == 0 {
		i.fs.used -= i.footprint()
		i.data = nil
	}
}

// file implements fs.File.
type file struct {
	inode *inode

	// pos is the file position. It is only accessed by the handle's owner.
	pos int64

	// closed is set by Close.
	closed bool
}

// ID implements fs.File.ID.
func (f *file) ID() uint64 {
	return f.inode.ino
}

// Read implements fs.File.Read.
func (f *file) Read(ctx context.Context, dst []byte) (int, error) {
	if f.closed {
		return 0, linuxerr.EBADF
	}
	mfs := f.inode.fs
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	if f.pos >= int64(len(f.inode.data)) {
		return 0, nil
	}
	n := copy(dst, f.inode.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

// Write implements fs.File.Write.
func (f *file) Write(ctx context.Context, src []byte) (int, error) {
	if f.closed {
		return 0, linuxerr.EBADF
	}
	if len(src) == 0 {
		return 0, nil
	}
	mfs := f.inode.fs
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	i := f.inode
	end := f.pos + int64(len(src))
	if end > int64(len(i.data)) {
		before := i.footprint()
		grow := end
		if grow < i.reserved {
			grow = i.reserved
		}
		if delta := grow - before; delta > 0 && mfs.used+delta > mfs.opts.Capacity {
			// Write what fits.
			avail := mfs.opts.Capacity - mfs.used
			end = before + avail
			if end <= f.pos {
				return 0, linuxerr.ENOSPC
			}
			src = src[:end-f.pos]
		}
		i.data = growTo(i.data, end)
		mfs.used += i.footprint() - before
	}
	n := copy(i.data[f.pos:], src)
	f.pos += int64(n)
	return n, nil
}

// growTo extends b to length n, zero-filling the new bytes. Only the written
// extent is backed by memory.
func growTo(b []byte, n int64) []byte {
	if int64(cap(b)) >= n {
		old := len(b)
		b = b[:n]
		clear(b[old:])
		return b
	}
	nb := make([]byte, n, max(n, int64(2*cap(b))))
	copy(nb, b)
	return nb
}

// Length implements fs.File.Length.
func (f *file) Length(ctx context.Context) (int64, error) {
	if f.closed {
		return 0, linuxerr.EBADF
	}
	mfs := f.inode.fs
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	return int64(len(f.inode.data)), nil
}

// Seek implements fs.File.Seek.
func (f *file) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

// Tell implements fs.File.Tell.
func (f *file) Tell() int64 {
	return f.pos
}

// Close implements fs.File.Close.
func (f *file) Close(ctx context.Context) error {
	if f.closed {
		return linuxerr.EBADF
	}
	f.closed = true
	mfs := f.inode.fs
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	f.inode.handles--
	f.inode.maybeFreeLocked()
	return nil
}

// String implements fmt.Stringer.String.
func (f *file) String() string {
	return fmt.Sprintf("memfs:ino=%d pos=%d", f.inode.ino, f.pos)
}
