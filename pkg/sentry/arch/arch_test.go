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

package arch

import "testing"

func TestArgumentConversions(t *testing.T) {
	a := FromWord(0xffffffff)
	if got := a.Int(); got != -1 {
		t.Errorf("Int() = %d, want -1", got)
	}
	if got := a.SizeT(); got != 0xffffffff {
		t.Errorf("SizeT() = %#x, want 0xffffffff", got)
	}
	if !a.Bool() {
		t.Errorf("Bool() = false, want true")
	}
	if FromWord(0).Bool() {
		t.Errorf("Bool() of zero = true")
	}
}

func TestReturnEncoding(t *testing.T) {
	var f TrapFrame
	f.SetReturn(IntReturn(-1))
	if f.Result != 0xffffffff || f.Return() != -1 {
		t.Errorf("after IntReturn(-1): %v", &f)
	}
	f.SetReturn(BoolReturn(true))
	if f.Return() != 1 {
		t.Errorf("BoolReturn(true) stored %d", f.Return())
	}
}
