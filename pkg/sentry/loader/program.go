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

// Package loader loads user programs.
//
// A program image is a YAML document describing the program's data and the
// sequence of system calls it makes:
//
//	name: notes
//	data:
//	  - {label: name, string: "notes.txt"}
//	  - {label: buf, size: 64}
//	steps:
//	  - {call: create, args: ["&name", 100], expect: 1}
//	  - {call: open, args: ["&name"], save: fd}
//	  - {call: write, args: ["$fd", "&buf", 2], expect: 2}
//	  - {call: exit, args: [0]}
//
// Programs are registered with a Registry, which implements kernel.Loader.
package loader

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"trapgate.dev/trapgate/pkg/abi/sysno"
	"trapgate.dev/trapgate/pkg/sentry/arch"
)

// Datum is one labelled object in a program's data segment. Exactly one of
// String, Hex and Size describes its contents.
type Datum struct {
	// Label names the datum's address.
	Label string `yaml:"label"`

	// String is NUL-terminated text.
	String *string `yaml:"string,omitempty"`

	// Hex is raw bytes, hex encoded.
	Hex string `yaml:"hex,omitempty"`

	// Size is the size of a zero-filled buffer.
	Size uint32 `yaml:"size,omitempty"`

	// ReadOnly places the datum on a read-only page.
	ReadOnly bool `yaml:"readonly,omitempty"`
}

// Bytes returns the datum's initial contents.
func (d *Datum) Bytes() ([]byte, error) {
	n := 0
	if d.String != nil {
		n++
	}
	if d.Hex != "" {
		n++
	}
	if d.Size != 0 {
		n++
	}
	if n != 1 {
		return nil, fmt.Errorf("datum %q: exactly one of string, hex and size is required", d.Label)
	}
	switch {
	case d.String != nil:
		return append([]byte(*d.String), 0), nil
	case d.Hex != "":
		b, err := hex.DecodeString(d.Hex)
		if err != nil {
			return nil, fmt.Errorf("datum %q: %w", d.Label, err)
		}
		return b, nil
	default:
		return make([]byte, d.Size), nil
	}
}

// Step is one system call.
type Step struct {
	// Call is the syscall name or number.
	Call string `yaml:"call"`

	// Args are the syscall arguments.
	Args []Arg `yaml:"args,omitempty"`

	// SP, if set, is the stack pointer to trap with instead of the
	// program's stack.
	SP *Arg `yaml:"sp,omitempty"`

	// Vector, if set, is the interrupt vector to raise instead of the
	// syscall vector.
	Vector *uint8 `yaml:"vector,omitempty"`

	// Expect, if set, is the result the step should produce.
	Expect *int32 `yaml:"expect,omitempty"`

	// Save names a variable that receives the result.
	Save string `yaml:"save,omitempty"`

	// sysno is Call, resolved.
	sysno sysno.Sysno
}

// Sysno returns the syscall number the step invokes.
func (s *Step) Sysno() sysno.Sysno {
	return s.sysno
}

// TrapVector returns the vector the step raises.
func (s *Step) TrapVector() arch.Vector {
	if s.Vector != nil {
		return arch.Vector(*s.Vector)
	}
	return arch.SyscallVector
}

// Program is a parsed program image.
type Program struct {
	// Name is the name the program is executed by.
	Name string `yaml:"name"`

	// Data is the data segment.
	Data []Datum `yaml:"data,omitempty"`

	// Steps are the system calls the program makes, in order.
	Steps []Step `yaml:"steps"`
}

// Parse reads a program image. Unknown fields are an error.
func Parse(r io.Reader) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Program
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty program image")
		}
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseBytes reads a program image from b.
func ParseBytes(b []byte) (*Program, error) {
	return Parse(bytes.NewReader(b))
}

// ParseFile reads a program image from the named file.
func ParseFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func resolveCall(call string) (sysno.Sysno, error) {
	if s, ok := sysno.Lookup(call); ok {
		return s, nil
	}
	n, err := strconv.ParseUint(call, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown syscall %q", call)
	}
	return sysno.Sysno(n), nil
}

func (p *Program) validate() error {
	if p.Name == "" || strings.ContainsAny(p.Name, " \t\n") {
		return fmt.Errorf("invalid program name %q", p.Name)
	}
	labels := make(map[string]bool)
	for i := range p.Data {
		d := &p.Data[i]
		if d.Label == "" {
			return fmt.Errorf("datum %d has no label", i)
		}
		if labels[d.Label] {
			return fmt.Errorf("duplicate label %q", d.Label)
		}
		labels[d.Label] = true
		if _, err := d.Bytes(); err != nil {
			return err
		}
	}

	vars := make(map[string]bool)
	check := func(i int, a *Arg) error {
		switch a.kind {
		case argLabel:
			if !labels[a.name] {
				return fmt.Errorf("step %d: unknown label %q", i, a.name)
			}
		case argVar:
			if !vars[a.name] {
				return fmt.Errorf("step %d: variable %q used before it is saved", i, a.name)
			}
		}
		return nil
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		n, err := resolveCall(s.Call)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		s.sysno = n
		if len(s.Args) > sysno.MaxArgs {
			return fmt.Errorf("step %d: %d args, at most %d allowed", i, len(s.Args), sysno.MaxArgs)
		}
		for j := range s.Args {
			if err := check(i, &s.Args[j]); err != nil {
				return err
			}
		}
		if s.SP != nil {
			if err := check(i, s.SP); err != nil {
				return err
			}
		}
		if s.Save != "" {
			if strings.HasPrefix(s.Save, "arg") || strings.HasPrefix(s.Save, "int") {
				return fmt.Errorf("step %d: reserved variable name %q", i, s.Save)
			}
			vars[s.Save] = true
		}
	}
	return nil
}
