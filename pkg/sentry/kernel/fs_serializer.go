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
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FSSerializer is the single lock serializing filesystem access and every
// descriptor table in the kernel. Only one goroutine may be inside Do at a
// time.
type FSSerializer struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewFSSerializer returns an unheld FSSerializer.
func NewFSSerializer() *FSSerializer {
	return &FSSerializer{sem: semaphore.NewWeighted(1)}
}

// Do acquires the serializer, runs fn, and releases the serializer on every
// path out of fn, panics included. ctx is honoured only while waiting to
// acquire; once fn starts it runs to completion.
//
// Do is not reentrant: calling Do from within fn deadlocks.
func (s *FSSerializer) Do(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held.Store(true)
	defer func() {
		s.held.Store(false)
		s.sem.Release(1)
	}()
	return fn()
}

// Held returns true if some goroutine is inside Do.
func (s *FSSerializer) Held() bool {
	return s.held.Load()
}
