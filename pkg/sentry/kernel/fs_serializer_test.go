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
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestFSSerializerExclusive(t *testing.T) {
	s := NewFSSerializer()
	var inside, maxInside atomic.Int32

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				if err := s.Do(context.Background(), func() error {
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					if !s.Held() {
						return errors.New("Held() = false inside Do")
					}
					inside.Add(-1)
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := maxInside.Load(); got != 1 {
		t.Errorf("%d goroutines held the serializer at once", got)
	}
	if s.Held() {
		t.Errorf("Held() = true after all Do calls returned")
	}
}

func TestFSSerializerReleasesOnError(t *testing.T) {
	s := NewFSSerializer()
	want := errors.New("boom")
	if err := s.Do(context.Background(), func() error { return want }); err != want {
		t.Errorf("Do returned %v, want %v", err, want)
	}
	if s.Held() {
		t.Errorf("Held() = true after an error")
	}
}

func TestFSSerializerReleasesOnPanic(t *testing.T) {
	s := NewFSSerializer()
	func() {
		defer func() { recover() }()
		s.Do(context.Background(), func() error { panic("boom") })
	}()
	if s.Held() {
		t.Fatalf("Held() = true after a panic")
	}
	ran := false
	s.Do(context.Background(), func() error { ran = true; return nil })
	if !ran {
		t.Errorf("Do after a panic did not run")
	}
}

func TestFSSerializerContext(t *testing.T) {
	s := NewFSSerializer()
	release := make(chan struct{})
	acquired := make(chan struct{})
	go s.Do(context.Background(), func() error {
		close(acquired)
		<-release
		return nil
	})
	<-acquired

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	if err := s.Do(ctx, func() error { ran = true; return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do on a held serializer: got %v, want %v", err, context.DeadlineExceeded)
	}
	if ran {
		t.Errorf("fn ran without the serializer")
	}
	close(release)
}
