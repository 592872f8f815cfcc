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

// Package config provides basic infrastructure to set configuration settings
// for trapgate. Each setting is a flag, and may also be supplied by a TOML
// file named with --config.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
)

// Config holds configuration that is not part of the program images.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and, unless the setting is
//     flag-only, a toml tag.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the TOML file the other settings were read from.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It
	// may contain the variables %COMMAND%, %PID% and %TIMESTAMP%.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace" toml:"strace"`

	// StraceSyscalls is the set of syscalls to trace (comma-separated
	// values). If StraceEnable is true and this string is empty, then all
	// syscalls will be traced.
	StraceSyscalls string `flag:"strace-syscalls" toml:"strace_syscalls"`

	// StraceLogSize is the max size of data blobs to display.
	StraceLogSize uint `flag:"strace-log-size" toml:"strace_log_size"`

	// FS is the filesystem programs see.
	FS FSType `flag:"fs" toml:"fs"`

	// Root is the host directory backing the host filesystem.
	Root string `flag:"root" toml:"root"`

	// ConsoleChunk is the most bytes one write to the console emits.
	ConsoleChunk int `flag:"console-chunk" toml:"console_chunk"`

	// NameMax is the longest file name accepted.
	NameMax int `flag:"name-max" toml:"name_max"`

	// FSCapacity bounds filesystem space: the total bytes of a memfs, or the
	// largest file on a host filesystem.
	FSCapacity int64 `flag:"fs-capacity" toml:"fs_capacity"`

	// MaxOpenFiles is the number of descriptors a process may hold.
	MaxOpenFiles int `flag:"max-open-files" toml:"max_open_files"`
}

func (c *Config) validate() error {
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		if f != "text" && f != "json" {
			return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", f)
		}
	}
	if c.FS == FSHost && c.Root == "" {
		return fmt.Errorf("--fs=host requires --root")
	}
	if c.ConsoleChunk <= 0 {
		return fmt.Errorf("console-chunk must be positive, got %d", c.ConsoleChunk)
	}
	if c.NameMax <= 0 {
		return fmt.Errorf("name-max must be positive, got %d", c.NameMax)
	}
	if c.FSCapacity <= 0 {
		return fmt.Errorf("fs-capacity must be positive, got %d", c.FSCapacity)
	}
	if c.MaxOpenFiles <= kernel.FirstFD {
		return fmt.Errorf("max-open-files must be greater than %d, got %d", kernel.FirstFD, c.MaxOpenFiles)
	}
	return nil
}

// StraceList returns StraceSyscalls as a list. It is empty if every syscall
// is traced.
func (c *Config) StraceList() []string {
	if c.StraceSyscalls == "" {
		return nil
	}
	return strings.Split(c.StraceSyscalls, ",")
}

// Limits returns the kernel limits the config selects.
func (c *Config) Limits() kernel.Limits {
	return kernel.Limits{
		ConsoleChunk: c.ConsoleChunk,
		NameMax:      c.NameMax,
		MaxOpenFiles: c.MaxOpenFiles,
	}
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("  %s: %v", name, obj.Field(i).Interface())
		}
	}
}

// LoadFile decodes the TOML file at path over c. Keys that name no setting
// are an error.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config %q: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// FSType selects the filesystem backend.
type FSType int

const (
	// FSMemory is an in-memory filesystem that starts empty.
	FSMemory FSType = iota

	// FSHost is a host directory.
	FSHost
)

func fsTypePtr(v FSType) *FSType {
	return &v
}

// Set implements flag.Value. It is also used by the TOML decoder.
func (f *FSType) Set(v string) error {
	switch v {
	case "memfs":
		*f = FSMemory
	case "host":
		*f = FSHost
	default:
		return fmt.Errorf("invalid filesystem type %q, must be 'memfs' or 'host'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (f *FSType) Get() any {
	return *f
}

// String implements flag.Value.
func (f FSType) String() string {
	switch f {
	case FSMemory:
		return "memfs"
	case FSHost:
		return "host"
	}
	panic(fmt.Sprintf("Invalid filesystem type %d", f))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FSType) UnmarshalText(text []byte) error {
	return f.Set(string(text))
}
