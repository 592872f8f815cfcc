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

package hostfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/sentry/fs"
)

func newFS(t *testing.T) (fs.Filesystem, string) {
	t.Helper()
	dir := t.TempDir()
	hfs, err := New(dir, Options{})
	if err != nil {
		t.Fatalf("New(%q): %v", dir, err)
	}
	t.Cleanup(func() { hfs.Release(context.Background()) })
	return hfs, dir
}

func TestCreateWriteLength(t *testing.T) {
	ctx := context.Background()
	hfs, dir := newFS(t)
	if err := hfs.Create(ctx, "notes.txt", 100); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := hfs.Create(ctx, "notes.txt", 100); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("second Create: got %v, want EEXIST", err)
	}
	f, err := hfs.Open(ctx, "notes.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close(ctx)
	if n, err := f.Write(ctx, []byte("hi")); n != 2 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if n, err := f.Length(ctx); n != 2 || err != nil {
		t.Errorf("Length = %d, %v, want 2", n, err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if err != nil || string(b) != "hi" {
		t.Errorf("host file = %q, %v", b, err)
	}

	f.Seek(0)
	buf := make([]byte, 8)
	if n, err := f.Read(ctx, buf); n != 2 || err != nil || string(buf[:n]) != "hi" {
		t.Errorf("Read = %d %q, %v", n, buf[:n], err)
	}
}

func TestSameFileSameID(t *testing.T) {
	ctx := context.Background()
	hfs, _ := newFS(t)
	if err := hfs.Create(ctx, "a", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := hfs.Create(ctx, "b", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a1, _ := hfs.Open(ctx, "a")
	a2, _ := hfs.Open(ctx, "a")
	b, _ := hfs.Open(ctx, "b")
	defer a1.Close(ctx)
	defer a2.Close(ctx)
	defer b.Close(ctx)
	if a1.ID() != a2.ID() {
		t.Errorf("handles to the same file have different IDs")
	}
	if a1.ID() == b.ID() {
		t.Errorf("handles to different files share an ID")
	}
}

func TestRemoveAndMissing(t *testing.T) {
	ctx := context.Background()
	hfs, _ := newFS(t)
	if _, err := hfs.Open(ctx, "missing"); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Open(missing): got %v, want ENOENT", err)
	}
	if err := hfs.Create(ctx, "gone", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, _ := hfs.Open(ctx, "gone")
	defer f.Close(ctx)
	if err := hfs.Remove(ctx, "gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, err := f.Write(ctx, []byte("x")); n != 1 || err != nil {
		t.Errorf("Write to a removed file = %d, %v", n, err)
	}
	if err := hfs.Remove(ctx, "gone"); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("second Remove: got %v, want ENOENT", err)
	}
}

func TestLockFileHidden(t *testing.T) {
	ctx := context.Background()
	hfs, _ := newFS(t)
	if _, err := hfs.Open(ctx, LockName); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("Open(%q): got %v, want EACCES", LockName, err)
	}
}

func TestExclusive(t *testing.T) {
	_, dir := newFS(t)
	if _, err := New(dir, Options{}); err == nil {
		t.Errorf("second New(%q) succeeded while the first is mounted", dir)
	}
}

func TestMaxFileSize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	hfs, err := New(dir, Options{MaxFileSize: 8})
	if err != nil {
		t.Fatalf("New(%q): %v", dir, err)
	}
	defer hfs.Release(ctx)

	if err := hfs.Create(ctx, "big", 1<<32-1); !linuxerr.Equals(linuxerr.ENOSPC, err) {
		t.Errorf("Create over the size limit: got %v, want ENOSPC", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "big")); !os.IsNotExist(err) {
		t.Errorf("rejected Create left a file behind: %v", err)
	}
	if err := hfs.Create(ctx, "small", 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := hfs.Open(ctx, "small")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close(ctx)
	if n, err := f.Write(ctx, []byte("0123456789")); n != 8 || err != nil {
		t.Errorf("Write past the size limit = %d, %v, want 8, nil", n, err)
	}
	if _, err := f.Write(ctx, []byte{1}); !linuxerr.Equals(linuxerr.ENOSPC, err) {
		t.Errorf("Write at the size limit: got %v, want ENOSPC", err)
	}
	if got, err := f.Length(ctx); got != 8 || err != nil {
		t.Errorf("Length = %d, %v, want 8, nil", got, err)
	}
}
