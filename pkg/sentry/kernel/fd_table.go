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

package kernel

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/sentry/fs"
)

// Reserved descriptors. They name the console and never appear in an
// FDTable.
const (
	// StdinFD reads console input.
	StdinFD = 0

	// StdoutFD writes to the console.
	StdoutFD = 1

	// FirstFD is the first descriptor NewFD allocates.
	FirstFD = 2
)

// FDTable is a process's descriptor table.
//
// Descriptors are allocated in increasing order and never reused within one
// table: files[i] holds descriptor FirstFD+i, or nil once it is closed.
//
// FDTable has no lock of its own. All access must hold the kernel's
// FSSerializer; Process.WithFDTable arranges that.
type FDTable struct {
	files []fs.File
	live  int
	limit int
}

// NewFDTable returns an empty table that holds at most limit open files.
func NewFDTable(limit int) *FDTable {
	return &FDTable{limit: limit}
}

func (f *FDTable) index(fd int32) (int, bool) {
	i := int(fd) - FirstFD
	if fd < FirstFD || i >= len(f.files) {
		return 0, false
	}
	return i, true
}

// NewFD installs file at the next descriptor and returns it. The table takes
// ownership of file only on success.
func (f *FDTable) NewFD(file fs.File) (int32, error) {
	if f.live >= f.limit {
		return -1, linuxerr.EMFILE
	}
	if len(f.files) >= math.MaxInt32-FirstFD {
		return -1, linuxerr.EMFILE
	}
	fd := int32(len(f.files) + FirstFD)
	f.files = append(f.files, file)
	f.live++
	return fd, nil
}

// Get returns the file at fd, or nil if fd is not open.
func (f *FDTable) Get(fd int32) fs.File {
	i, ok := f.index(fd)
	if !ok {
		return nil
	}
	return f.files[i]
}

// Remove removes fd from the table and returns its file. The caller is
// responsible for closing the file.
func (f *FDTable) Remove(fd int32) (fs.File, bool) {
	i, ok := f.index(fd)
	if !ok || f.files[i] == nil {
		return nil, false
	}
	file := f.files[i]
	f.files[i] = nil
	f.live--
	return file, true
}

// Contains returns true if the table holds a descriptor for the file with the
// given ID.
func (f *FDTable) Contains(id uint64) bool {
	for _, file := range f.files {
		if file != nil && file.ID() == id {
			return true
		}
	}
	return false
}

// ForEach iterates over all open descriptors in increasing order.
func (f *FDTable) ForEach(fn func(fd int32, file fs.File)) {
	for i, file := range f.files {
		if file != nil {
			fn(int32(i+FirstFD), file)
		}
	}
}

// RemoveAll closes and removes every open descriptor. It returns the first
// error any close returned; all descriptors are removed regardless.
func (f *FDTable) RemoveAll(ctx context.Context) error {
	var firstErr error
	for i, file := range f.files {
		if file == nil {
			continue
		}
		f.files[i] = nil
		f.live--
		if err := file.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the number of open descriptors.
func (f *FDTable) Size() int {
	return f.live
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var buf bytes.Buffer
	f.ForEach(func(fd int32, file fs.File) {
		fmt.Fprintf(&buf, "\tfd:%d => id:%d pos:%d\n", fd, file.ID(), file.Tell())
	})
	return buf.String()
}
