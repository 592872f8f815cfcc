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

package sysno

import "testing"

func TestNames(t *testing.T) {
	for s := Sysno(0); int(s) < Count; s++ {
		got, ok := Lookup(s.String())
		if !ok || got != s {
			t.Errorf("Lookup(%q) = %d, %t, want %d, true", s.String(), got, ok, s)
		}
	}
	if SYS_CLOSE != 12 || SYS_INUMBER != 19 {
		t.Errorf("ABI numbering changed: close=%d inumber=%d", SYS_CLOSE, SYS_INUMBER)
	}
}

func TestUnknown(t *testing.T) {
	s := Sysno(Count + 3)
	if s.Known() {
		t.Errorf("%d reported as known", s)
	}
	if got, want := s.String(), "sys_23"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if _, ok := Lookup("fork"); ok {
		t.Errorf("Lookup(fork) succeeded")
	}
}
