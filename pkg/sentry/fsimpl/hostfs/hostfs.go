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

// Package hostfs provides a flat filesystem backed by a directory on the
// host.
//
// The directory is locked exclusively for as long as the filesystem is in use,
// so two kernels never share one backing directory.
package hostfs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/fs"
)

// Name is the name of this filesystem type.
const Name = "host"

// LockName is the name of the lock file created in the backing directory. It
// is not visible through the filesystem.
const LockName = ".trapgate.lock"

// DefaultMaxFileSize is the file size limit used when Options leave it unset.
const DefaultMaxFileSize = 64 << 20

// Options configure a filesystem.
type Options struct {
	// MaxFileSize bounds both the reservation made by Create and the extent
	// a write may reach. Zero selects DefaultMaxFileSize.
	MaxFileSize int64
}

// filesystem implements fs.Filesystem.
type filesystem struct {
	opts  Options
	root  string
	dirFD int
	lock  *flock.Flock
}

// New opens root as a filesystem. root must be an existing directory that no
// other filesystem instance has open.
func New(root string, opts Options) (fs.Filesystem, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(root, LockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %q: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("%q is in use by another kernel", root)
	}
	dirFD, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening %q: %w", root, err)
	}
	log.Infof("hostfs: mounted %q", root)
	return &filesystem{opts: opts, root: root, dirFD: dirFD, lock: lock}, nil
}

// hostName validates name and rejects names that would escape the flat
// namespace or expose the lock file.
func hostName(name string) (string, error) {
	if err := fs.ValidName(name); err != nil {
		return "", err
	}
	if name == LockName {
		return "", linuxerr.EACCES
	}
	return name, nil
}

// translate converts a host error to a linuxerr.
func translate(err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return linuxerr.ErrorFromUnix(errno)
	}
	return err
}

// Name implements fs.Filesystem.Name.
func (h *filesystem) Name() string {
	return Name
}

// Create implements fs.Filesystem.Create.
func (h *filesystem) Create(ctx context.Context, name string, initialSize int64) error {
	n, err := hostName(name)
	if err != nil {
		return err
	}
	if initialSize < 0 {
		return linuxerr.EINVAL
	}
	if initialSize > h.opts.MaxFileSize {
		return linuxerr.ENOSPC
	}
	fd, err := unix.Openat(h.dirFD, n, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0644)
	if err != nil {
		return translate(err)
	}
	defer unix.Close(fd)
	if initialSize > 0 {
		// Reserve the capacity without changing the length.
		if err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, initialSize); err != nil {
			switch err {
			case unix.EOPNOTSUPP, unix.ENOSYS:
				log.Debugf("hostfs: fallocate unsupported for %q: %v", n, err)
			default:
				unix.Unlinkat(h.dirFD, n, 0)
				return translate(err)
			}
		}
	}
	return nil
}

// Open implements fs.Filesystem.Open.
func (h *filesystem) Open(ctx context.Context, name string) (fs.File, error) {
	n, err := hostName(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Openat(h.dirFD, n, unix.O_RDWR|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, translate(err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, translate(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, linuxerr.EISDIR
	}
	return &file{fd: fd, ino: st.Ino, max: h.opts.MaxFileSize}, nil
}

// Remove implements fs.Filesystem.Remove.
func (h *filesystem) Remove(ctx context.Context, name string) error {
	n, err := hostName(name)
	if err != nil {
		return err
	}
	return translate(unix.Unlinkat(h.dirFD, n, 0))
}

// Release implements fs.Filesystem.Release.
func (h *filesystem) Release(ctx context.Context) error {
	err := unix.Close(h.dirFD)
	if uerr := h.lock.Unlock(); err == nil {
		err = uerr
	}
	return translate(err)
}

// file implements fs.File.
type file struct {
	fd  int
	ino uint64
	pos int64

	// max is the filesystem's MaxFileSize.
	max int64
}

// ID implements fs.File.ID.
func (f *file) ID() uint64 {
	return f.ino
}

// Read implements fs.File.Read.
func (f *file) Read(ctx context.Context, dst []byte) (int, error) {
	if f.fd < 0 {
		return 0, linuxerr.EBADF
	}
	total := 0
	for total < len(dst) {
		n, err := unix.Pread(f.fd, dst[total:], f.pos)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, translate(err)
		}
		if n == 0 {
			break
		}
		total += n
		f.pos += int64(n)
	}
	return total, nil
}

// Write implements fs.File.Write.
func (f *file) Write(ctx context.Context, src []byte) (int, error) {
	if f.fd < 0 {
		return 0, linuxerr.EBADF
	}
	if len(src) == 0 {
		return 0, nil
	}
	if f.pos >= f.max {
		return 0, linuxerr.ENOSPC
	}
	if room := f.max - f.pos; int64(len(src)) > room {
		// Write what fits.
		src = src[:room]
	}
	total := 0
	for total < len(src) {
		n, err := unix.Pwrite(f.fd, src[total:], f.pos)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, translate(err)
		}
		total += n
		f.pos += int64(n)
	}
	return total, nil
}

// Length implements fs.File.Length.
func (f *file) Length(ctx context.Context) (int64, error) {
	if f.fd < 0 {
		return 0, linuxerr.EBADF
	}
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, translate(err)
	}
	return st.Size, nil
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
	if f.fd < 0 {
		return linuxerr.EBADF
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return translate(err)
}
