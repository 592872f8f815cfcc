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

// Package fs defines the filesystem collaborator consumed by the system call
// layer.
//
// A Filesystem is a flat namespace of regular files. Implementations are not
// required to be safe for concurrent use: the kernel calls them only while
// holding its filesystem serializer.
package fs

import (
	"context"
	"strings"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
)

// Filesystem is the interface to an on-disk (or in-memory) filesystem.
type Filesystem interface {
	// Name identifies the filesystem implementation in logs.
	Name() string

	// Create creates a file called name with initialSize bytes of reserved
	// capacity. It returns EEXIST if name already exists.
	Create(ctx context.Context, name string, initialSize int64) error

	// Open opens the file called name. It returns ENOENT if no such file
	// exists. Each call returns an independent handle with its own position.
	Open(ctx context.Context, name string) (File, error)

	// Remove unlinks name. Open handles to the file remain usable until they
	// are closed.
	Remove(ctx context.Context, name string) error

	// Release releases resources held by the filesystem.
	Release(ctx context.Context) error
}

// File is an open file handle.
type File interface {
	// ID identifies the underlying file resource. Two handles have the same
	// ID iff they refer to the same file.
	ID() uint64

	// Read reads from the current position into dst, advancing the
	// position. It returns 0 at end of file.
	Read(ctx context.Context, dst []byte) (int, error)

	// Write writes src at the current position, advancing the position and
	// extending the file as needed.
	Write(ctx context.Context, src []byte) (int, error)

	// Length returns the size of the file in bytes.
	Length(ctx context.Context) (int64, error)

	// Seek sets the position. Positions past the end of the file are
	// allowed; a subsequent read returns 0 bytes.
	Seek(pos int64)

	// Tell returns the position.
	Tell() int64

	// Close releases the handle.
	Close(ctx context.Context) error
}

// ValidName checks that name is usable as a filename in a flat namespace. It
// does not enforce length limits; the system call layer does that.
func ValidName(name string) error {
	switch {
	case name == "":
		return linuxerr.ENOENT
	case name == "." || name == "..":
		return linuxerr.ENOENT
	case strings.ContainsAny(name, "/\x00"):
		return linuxerr.ENOENT
	}
	return nil
}
