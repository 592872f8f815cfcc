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

// Package userprog provides the syscall table for user programs and the
// implementations of its system calls.
package userprog

import (
	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/syscalls"
)

// TableName is the name UserProg is registered under.
const TableName = "userprog"

// Argument kinds, abbreviated for the table below.
const (
	aInt  = kernel.ArgInt
	aSize = kernel.ArgSize
	aPtr  = kernel.ArgPointer
	aStr  = kernel.ArgString
	aFD   = kernel.ArgFD
)

// UserProg is the table of system calls available to user programs.
var UserProg = &kernel.SyscallTable{
	Name: TableName,
	Table: map[sysno.Sysno]kernel.Syscall{
		sysno.SYS_HALT:     syscalls.Supported("halt", Halt),
		sysno.SYS_EXIT:     syscalls.Supported("exit", Exit, aInt),
		sysno.SYS_EXEC:     syscalls.Returning("exec", -1, Exec, aStr),
		sysno.SYS_WAIT:     syscalls.Returning("wait", -1, Wait, aInt),
		sysno.SYS_CREATE:   syscalls.Returning("create", 0, Create, aStr, aSize),
		sysno.SYS_REMOVE:   syscalls.Returning("remove", 0, Remove, aStr),
		sysno.SYS_OPEN:     syscalls.Returning("open", -1, Open, aStr),
		sysno.SYS_FILESIZE: syscalls.Returning("filesize", -1, Filesize, aFD),
		sysno.SYS_READ:     syscalls.Returning("read", -1, Read, aFD, aPtr, aSize),
		sysno.SYS_WRITE:    syscalls.Returning("write", -1, Write, aFD, aPtr, aSize),
		sysno.SYS_SEEK:     syscalls.Supported("seek", Seek, aFD, aSize),
		sysno.SYS_TELL:     syscalls.Returning("tell", -1, Tell, aFD),
		sysno.SYS_CLOSE:    syscalls.Supported("close", Close, aFD),
		sysno.SYS_MMAP:     syscalls.Unimplemented("mmap", "Memory-mapped files are not supported.", aFD, aPtr),
		sysno.SYS_MUNMAP:   syscalls.Unimplemented("munmap", "Memory-mapped files are not supported.", aInt),
		sysno.SYS_CHDIR:    syscalls.Unimplemented("chdir", "The filesystem is flat.", aStr),
		sysno.SYS_MKDIR:    syscalls.Unimplemented("mkdir", "The filesystem is flat.", aStr),
		sysno.SYS_READDIR:  syscalls.Unimplemented("readdir", "The filesystem is flat.", aFD, aPtr),
		sysno.SYS_ISDIR:    syscalls.Unimplemented("isdir", "The filesystem is flat.", aFD),
		sysno.SYS_INUMBER:  syscalls.Unimplemented("inumber", "The filesystem is flat.", aFD),
	},
}

func init() {
	kernel.RegisterSyscallTable(UserProg)
}
