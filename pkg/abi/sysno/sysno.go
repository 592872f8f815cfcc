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

// Package sysno defines the system call numbers of the user program ABI and
// the layout of a system call frame on the user stack.
//
// A frame is a sequence of little-endian words starting at the stack pointer
// of the trapping process:
//
//	sp+0:  syscall number
//	sp+4:  argument 0
//	sp+8:  argument 1
//	sp+12: argument 2
package sysno

import (
	"encoding/binary"
	"fmt"
)

// WordSize is the size in bytes of one frame word.
const WordSize = 4

// MaxArgs is the largest number of arguments any system call takes.
const MaxArgs = 3

// ByteOrder is the byte order of frame words.
var ByteOrder = binary.LittleEndian

// Sysno is a system call number.
type Sysno uint32

// System call numbers.
const (
	// Process control.
	SYS_HALT Sysno = iota
	SYS_EXIT
	SYS_EXEC
	SYS_WAIT

	// Files.
	SYS_CREATE
	SYS_REMOVE
	SYS_OPEN
	SYS_FILESIZE
	SYS_READ
	SYS_WRITE
	SYS_SEEK
	SYS_TELL
	SYS_CLOSE

	// Memory-mapped files.
	SYS_MMAP
	SYS_MUNMAP

	// Directories.
	SYS_CHDIR
	SYS_MKDIR
	SYS_READDIR
	SYS_ISDIR
	SYS_INUMBER
)

var names = [...]string{
	SYS_HALT:     "halt",
	SYS_EXIT:     "exit",
	SYS_EXEC:     "exec",
	SYS_WAIT:     "wait",
	SYS_CREATE:   "create",
	SYS_REMOVE:   "remove",
	SYS_OPEN:     "open",
	SYS_FILESIZE: "filesize",
	SYS_READ:     "read",
	SYS_WRITE:    "write",
	SYS_SEEK:     "seek",
	SYS_TELL:     "tell",
	SYS_CLOSE:    "close",
	SYS_MMAP:     "mmap",
	SYS_MUNMAP:   "munmap",
	SYS_CHDIR:    "chdir",
	SYS_MKDIR:    "mkdir",
	SYS_READDIR:  "readdir",
	SYS_ISDIR:    "isdir",
	SYS_INUMBER:  "inumber",
}

// Count is the number of system calls the ABI names.
const Count = len(names)

// String implements fmt.Stringer.String.
func (s Sysno) String() string {
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("sys_%d", uint32(s))
}

// Known returns true if s is named by the ABI, whether or not it is
// implemented.
func (s Sysno) Known() bool {
	return int(s) < len(names)
}

// Lookup returns the system call with the given name.
func Lookup(name string) (Sysno, bool) {
	for i, n := range names {
		if n == name {
			return Sysno(i), true
		}
	}
	return 0, false
}
