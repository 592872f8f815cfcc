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

// Package strace implements the logic to print out the input and the return
// value of each traced syscall.
package strace

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/arch"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/usermem"
)

// DefaultLogMaximumSize is the default LogMaximumSize.
const DefaultLogMaximumSize = 1024

// LogMaximumSize determines the maximum display size for data blobs (read,
// write, etc.).
var LogMaximumSize uint = DefaultLogMaximumSize

// FormatSpecifier values describe how an individual syscall argument should be
// formatted.
type FormatSpecifier int

// Valid FormatSpecifiers.
//
// Unless otherwise specified, values are formatted before syscall execution
// and not updated after syscall execution (the same value is output).
const (
	// Hex is just a hexadecimal number.
	Hex FormatSpecifier = iota

	// Int is a signed decimal number.
	Int

	// FD is a file descriptor.
	FD

	// Path is a pointer to a NUL-terminated string.
	Path

	// ReadBuffer is a buffer for a read-style call. The syscall return
	// value is used for the length.
	//
	// Formatted after syscall execution.
	ReadBuffer

	// WriteBuffer is a buffer for a write-style call. The following arg is
	// used for the length.
	//
	// Contents omitted after syscall execution.
	WriteBuffer
)

// SyscallInfo captures the name and printing format of a syscall.
type SyscallInfo struct {
	name   string
	format []FormatSpecifier
}

// infos maps each syscall to its printing format.
var infos = map[sysno.Sysno]SyscallInfo{
	sysno.SYS_HALT:     {name: "halt"},
	sysno.SYS_EXIT:     {name: "exit", format: []FormatSpecifier{Int}},
	sysno.SYS_EXEC:     {name: "exec", format: []FormatSpecifier{Path}},
	sysno.SYS_WAIT:     {name: "wait", format: []FormatSpecifier{Int}},
	sysno.SYS_CREATE:   {name: "create", format: []FormatSpecifier{Path, Hex}},
	sysno.SYS_REMOVE:   {name: "remove", format: []FormatSpecifier{Path}},
	sysno.SYS_OPEN:     {name: "open", format: []FormatSpecifier{Path}},
	sysno.SYS_FILESIZE: {name: "filesize", format: []FormatSpecifier{FD}},
	sysno.SYS_READ:     {name: "read", format: []FormatSpecifier{FD, ReadBuffer, Hex}},
	sysno.SYS_WRITE:    {name: "write", format: []FormatSpecifier{FD, WriteBuffer, Hex}},
	sysno.SYS_SEEK:     {name: "seek", format: []FormatSpecifier{FD, Hex}},
	sysno.SYS_TELL:     {name: "tell", format: []FormatSpecifier{FD}},
	sysno.SYS_CLOSE:    {name: "close", format: []FormatSpecifier{FD}},
}

// Info returns the printing format of s. Syscalls without a known format are
// printed by number with three hex arguments.
func Info(s sysno.Sysno) SyscallInfo {
	if i, ok := infos[s]; ok {
		return i
	}
	return SyscallInfo{name: s.String(), format: []FormatSpecifier{Hex, Hex, Hex}}
}

// Name returns the syscall name.
func (i SyscallInfo) Name() string {
	return i.name
}

func dump(data []byte, size uint) string {
	d := data
	trunc := false
	if uint(len(d)) > LogMaximumSize {
		d = d[:LogMaximumSize]
		trunc = true
	}
	b := strconv.Quote(string(d))
	if trunc || uint(len(d)) < size {
		b += "..."
	}
	return b
}

func path(p *kernel.Process, addr hostarch.Addr) string {
	s, err := usermem.CopyInString(p.MemoryManager(), addr, int(LogMaximumSize))
	if err != nil {
		return fmt.Sprintf("%#x (error decoding path: %v)", uintptr(addr), err)
	}
	return fmt.Sprintf("%#x %q", uintptr(addr), s)
}

func buffer(p *kernel.Process, addr hostarch.Addr, size uint) string {
	n := size
	if n > LogMaximumSize {
		n = LogMaximumSize
	}
	b := make([]byte, n)
	if err := usermem.CopyIn(p.MemoryManager(), addr, b); err != nil {
		return fmt.Sprintf("%#x (error decoding buffer: %v)", uintptr(addr), err)
	}
	return fmt.Sprintf("%#x %s", uintptr(addr), dump(b, size))
}

func (i *SyscallInfo) pre(p *kernel.Process, args arch.SyscallArguments, words int) []string {
	var output []string
	for arg := 0; arg < words && arg < len(args); arg++ {
		if arg >= len(i.format) {
			output = append(output, fmt.Sprintf("%#x", args[arg].Uint()))
			continue
		}
		switch i.format[arg] {
		case Int, FD:
			output = append(output, fmt.Sprintf("%d", args[arg].Int()))
		case Path:
			output = append(output, path(p, args[arg].Pointer()))
		case WriteBuffer:
			size := uint(0)
			if arg+1 < len(args) {
				size = args[arg+1].SizeT()
			}
			output = append(output, buffer(p, args[arg].Pointer(), size))
		default:
			output = append(output, fmt.Sprintf("%#x", args[arg].Uint()))
		}
	}
	return output
}

func (i *SyscallInfo) post(p *kernel.Process, args arch.SyscallArguments, rval int32, output []string) {
	for arg := range output {
		if arg >= len(i.format) {
			continue
		}
		switch i.format[arg] {
		case ReadBuffer:
			if rval > 0 {
				output[arg] = buffer(p, args[arg].Pointer(), uint(rval))
			}
		case WriteBuffer:
			output[arg] = fmt.Sprintf("%#x", args[arg].Uint())
		}
	}
}

// Tracer logs syscalls. The zero value traces nothing.
type Tracer struct {
	mu      sync.RWMutex
	enabled bool
	// filter is the set of traced syscalls, or nil for all.
	filter map[sysno.Sysno]struct{}
	logger log.Logger
}

// NewTracer returns a disabled Tracer that logs to logger. A nil logger uses
// the global logger.
func NewTracer(logger log.Logger) *Tracer {
	if logger == nil {
		logger = log.Log()
	}
	return &Tracer{logger: logger}
}

// Enable turns tracing on for the named syscalls, or for all of them if names
// is empty.
func (t *Tracer) Enable(names []string) error {
	var filter map[sysno.Sysno]struct{}
	if len(names) > 0 {
		filter = make(map[sysno.Sysno]struct{}, len(names))
		for _, name := range names {
			s, ok := sysno.Lookup(strings.TrimSpace(name))
			if !ok {
				return fmt.Errorf("invalid syscall name %q", name)
			}
			filter[s] = struct{}{}
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	t.filter = filter
	return nil
}

// Disable turns tracing off.
func (t *Tracer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.filter = nil
}

// Traced returns true if s is being traced.
func (t *Tracer) Traced(s sysno.Sysno) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.enabled {
		return false
	}
	if t.filter == nil {
		return true
	}
	_, ok := t.filter[s]
	return ok
}

// Record is a syscall in flight, returned by Enter and completed by Exit.
type Record struct {
	info   SyscallInfo
	p      *kernel.Process
	args   arch.SyscallArguments
	output []string
	start  time.Time
}

// Enter logs the start of a syscall. words is the number of argument words
// the syscall reads; only those are rendered.
func (t *Tracer) Enter(p *kernel.Process, s sysno.Sysno, args arch.SyscallArguments, words int) *Record {
	info := Info(s)
	r := &Record{
		info:   info,
		p:      p,
		args:   args,
		output: info.pre(p, args, words),
		start:  time.Now(),
	}
	t.logger.Infof("%v E %s(%s)", p, info.name, strings.Join(r.output, ", "))
	return r
}

// Exit logs the end of a syscall. returns is false for syscalls without a
// result; err is the error the syscall failed with, if any.
func (t *Tracer) Exit(r *Record, rval int32, returns bool, err error) {
	elapsed := time.Since(r.start)
	r.info.post(r.p, r.args, rval, r.output)
	var ret string
	switch {
	case err != nil:
		ret = fmt.Sprintf("%d (%v)", rval, err)
	case returns:
		ret = fmt.Sprintf("%d", rval)
	default:
		ret = "void"
	}
	t.logger.Infof("%v X %s(%s) = %s (%v)", r.p, r.info.name, strings.Join(r.output, ", "), ret, elapsed)
}
