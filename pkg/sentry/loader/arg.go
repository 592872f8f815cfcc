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

package loader

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type argKind int

const (
	// argLiteral is an integer.
	argLiteral argKind = iota

	// argLabel is "&label" or "&label+N": a data address.
	argLabel

	// argVar is "$name": a result saved by an earlier step.
	argVar

	// argArgv is "$argN": the address of command line word N.
	argArgv

	// argInt is "$intN": command line word N parsed as an integer.
	argInt
)

// Arg is a step argument or stack pointer.
type Arg struct {
	kind   argKind
	value  uint32
	name   string
	offset int64
	index  int
}

// Literal returns an Arg with the value v.
func Literal(v uint32) Arg {
	return Arg{kind: argLiteral, value: v}
}

// UnmarshalYAML implements yaml.Unmarshaler.UnmarshalYAML.
func (a *Arg) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: argument must be a scalar", node.Line)
	}
	var err error
	switch node.Tag {
	case "!!int":
		*a, err = parseInt(node.Value)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*a = Literal(0)
		if b {
			a.value = 1
		}
	default:
		*a, err = ParseArg(node.Value)
	}
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func parseInt(s string) (Arg, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil || v < math.MinInt32 || v > math.MaxUint32 {
		return Arg{}, fmt.Errorf("invalid integer %q", s)
	}
	return Literal(uint32(v)), nil
}

// ParseArg parses the string form of an argument.
func ParseArg(s string) (Arg, error) {
	switch {
	case strings.HasPrefix(s, "&"):
		label, off, hasOff := strings.Cut(s[1:], "+")
		a := Arg{kind: argLabel, name: label}
		if label == "" {
			return Arg{}, fmt.Errorf("invalid label reference %q", s)
		}
		if hasOff {
			n, err := strconv.ParseInt(off, 0, 32)
			if err != nil || n < 0 {
				return Arg{}, fmt.Errorf("invalid label offset in %q", s)
			}
			a.offset = n
		}
		return a, nil
	case strings.HasPrefix(s, "$arg"), strings.HasPrefix(s, "$int"):
		n, err := strconv.Atoi(s[4:])
		if err != nil || n < 0 {
			return Arg{}, fmt.Errorf("invalid argument reference %q", s)
		}
		if s[1] == 'a' {
			return Arg{kind: argArgv, index: n}, nil
		}
		return Arg{kind: argInt, index: n}, nil
	case strings.HasPrefix(s, "$"):
		if len(s) == 1 {
			return Arg{}, fmt.Errorf("invalid variable reference %q", s)
		}
		return Arg{kind: argVar, name: s[1:]}, nil
	default:
		return parseInt(s)
	}
}

// String implements fmt.Stringer.String.
func (a Arg) String() string {
	switch a.kind {
	case argLabel:
		if a.offset != 0 {
			return fmt.Sprintf("&%s+%d", a.name, a.offset)
		}
		return "&" + a.name
	case argVar:
		return "$" + a.name
	case argArgv:
		return fmt.Sprintf("$arg%d", a.index)
	case argInt:
		return fmt.Sprintf("$int%d", a.index)
	default:
		return fmt.Sprintf("%#x", a.value)
	}
}

// Env resolves symbolic arguments for one running process.
type Env struct {
	// Labels are the data addresses.
	Labels map[string]uint32

	// Argv are the command line words.
	Argv []string

	// ArgvAddrs are the addresses of the command line words.
	ArgvAddrs []uint32

	// Vars are results saved by earlier steps.
	Vars map[string]uint32
}

// Resolve returns the value of a in e. Command line references past the end
// of the command line resolve to 0.
func (e *Env) Resolve(a Arg) uint32 {
	switch a.kind {
	case argLabel:
		return e.Labels[a.name] + uint32(a.offset)
	case argVar:
		return e.Vars[a.name]
	case argArgv:
		if a.index < len(e.ArgvAddrs) {
			return e.ArgvAddrs[a.index]
		}
		return 0
	case argInt:
		if a.index < len(e.Argv) {
			v, err := strconv.ParseInt(e.Argv[a.index], 0, 32)
			if err == nil {
				return uint32(v)
			}
		}
		return 0
	default:
		return a.value
	}
}
