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
	"errors"
	"io"
	"sync"
)

// Console is the console device. Reads take input from the user, writes are
// displayed.
type Console interface {
	io.Reader
	io.Writer
}

type console struct {
	rmu sync.Mutex
	in  io.Reader

	wmu sync.Mutex
	out io.Writer
}

// NewConsole returns a Console reading from in and writing to out. Either may
// be nil. Each Write is emitted to out atomically.
func NewConsole(in io.Reader, out io.Writer) Console {
	return &console{in: in, out: out}
}

// Read implements io.Reader.Read. End of input is reported as a zero-length
// read.
func (c *console) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.in == nil || len(p) == 0 {
		return 0, nil
	}
	n, err := c.in.Read(p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Write implements io.Writer.Write.
func (c *console) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.out == nil {
		return len(p), nil
	}
	return c.out.Write(p)
}
