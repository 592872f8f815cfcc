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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"
	"fmt"

	"golang.org/x/sys/unix"
	"trapgate.dev/trapgate/pkg/abi/linux/errno"
	"trapgate.dev/trapgate/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an errno number such that the error can be compared to unix.Errno (e.g.
// unix.Errno(EPERM.Errno()) == unix.EPERM is true). Converting unix.Errno to
// these errors should be done via ErrorFromUnix.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(errno.ESRCH, "no such process")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EIO                   = errors.New(errno.EIO, "I/O error")
	ENXIO                 = errors.New(errno.ENXIO, "no such device or address")
	E2BIG                 = errors.New(errno.E2BIG, "argument list too long")
	ENOEXEC               = errors.New(errno.ENOEXEC, "exec format error")
	EBADF                 = errors.New(errno.EBADF, "bad file number")
	ECHILD                = errors.New(errno.ECHILD, "no child processes")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EACCES                = errors.New(errno.EACCES, "permission denied")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	ENOTBLK               = errors.New(errno.ENOTBLK, "block device required")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                = errors.New(errno.EEXIST, "file exists")
	EXDEV                 = errors.New(errno.EXDEV, "cross-device link")
	ENODEV                = errors.New(errno.ENODEV, "no such device")
	ENOTDIR               = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR                = errors.New(errno.EISDIR, "is a directory")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	ENFILE                = errors.New(errno.ENFILE, "file table overflow")
	EMFILE                = errors.New(errno.EMFILE, "too many open files")
	ENOTTY                = errors.New(errno.ENOTTY, "not a typewriter")
	ETXTBSY               = errors.New(errno.ETXTBSY, "text file busy")
	EFBIG                 = errors.New(errno.EFBIG, "file too large")
	ENOSPC                = errors.New(errno.ENOSPC, "no space left on device")
	ESPIPE                = errors.New(errno.ESPIPE, "illegal seek")
	EROFS                 = errors.New(errno.EROFS, "read-only file system")
	EMLINK                = errors.New(errno.EMLINK, "too many links")
	EPIPE                 = errors.New(errno.EPIPE, "broken pipe")
	EDOM                  = errors.New(errno.EDOM, "math argument out of domain of func")
	ERANGE                = errors.New(errno.ERANGE, "math result not representable")

	// Errno values from include/uapi/asm-generic/errno.h.
	EDEADLK      = errors.New(errno.EDEADLK, "resource deadlock would occur")
	ENAMETOOLONG = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOLCK       = errors.New(errno.ENOLCK, "no record locks available")
	ENOSYS       = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY    = errors.New(errno.ENOTEMPTY, "directory not empty")
	ELOOP        = errors.New(errno.ELOOP, "too many symbolic links encountered")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	EDEADLOCK   = EDEADLK
)

// errorSlice holds errors by errno for fast translation between errnos and
// *errors.Error.
var errorSlice = []*errors.Error{
	errno.NOERRNO:      noError,
	errno.EPERM:        EPERM,
	errno.ENOENT:       ENOENT,
	errno.ESRCH:        ESRCH,
	errno.EINTR:        EINTR,
	errno.EIO:          EIO,
	errno.ENXIO:        ENXIO,
	errno.E2BIG:        E2BIG,
	errno.ENOEXEC:      ENOEXEC,
	errno.EBADF:        EBADF,
	errno.ECHILD:       ECHILD,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EACCES:       EACCES,
	errno.EFAULT:       EFAULT,
	errno.ENOTBLK:      ENOTBLK,
	errno.EBUSY:        EBUSY,
	errno.EEXIST:       EEXIST,
	errno.EXDEV:        EXDEV,
	errno.ENODEV:       ENODEV,
	errno.ENOTDIR:      ENOTDIR,
	errno.EISDIR:       EISDIR,
	errno.EINVAL:       EINVAL,
	errno.ENFILE:       ENFILE,
	errno.EMFILE:       EMFILE,
	errno.ENOTTY:       ENOTTY,
	errno.ETXTBSY:      ETXTBSY,
	errno.EFBIG:        EFBIG,
	errno.ENOSPC:       ENOSPC,
	errno.ESPIPE:       ESPIPE,
	errno.EROFS:        EROFS,
	errno.EMLINK:       EMLINK,
	errno.EPIPE:        EPIPE,
	errno.EDOM:         EDOM,
	errno.ERANGE:       ERANGE,
	errno.EDEADLK:      EDEADLK,
	errno.ENAMETOOLONG: ENAMETOOLONG,
	errno.ENOLCK:       ENOLCK,
	errno.ENOSYS:       ENOSYS,
	errno.ENOTEMPTY:    ENOTEMPTY,
	errno.ELOOP:        ELOOP,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Host errnos that have
// no counterpart here are reported as EIO.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	e := uint32(err)
	if e < uint32(len(errorSlice)) && errorSlice[e] != nil {
		return errorSlice[e]
	}
	return EIO
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if goerrors.As(err, &unixErr) {
		return e == ErrorFromUnix(unixErr)
	}
	var linuxErr *errors.Error
	if goerrors.As(err, &linuxErr) {
		return e == linuxErr
	}
	return e == nil && err == nil
}

// Translate returns the *errors.Error carried by err, converting host errnos
// on the way. ok is false if err carries no errno at all.
func Translate(err error) (*errors.Error, bool) {
	var linuxErr *errors.Error
	if goerrors.As(err, &linuxErr) {
		return linuxErr, true
	}
	var unixErr unix.Errno
	if goerrors.As(err, &unixErr) {
		if e, ok := ErrorFromUnix(unixErr).(*errors.Error); ok {
			return e, true
		}
	}
	return nil, false
}

// Wrap annotates err, preserving the errno for Equals and Translate.
func Wrap(e *errors.Error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), e)
}
