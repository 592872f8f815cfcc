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

package fs

import (
	"testing"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
)

func TestValidName(t *testing.T) {
	for _, test := range []struct {
		name string
		ok   bool
	}{
		{"notes.txt", true},
		{"a", true},
		{"", false},
		{".", false},
		{"..", false},
		{"dir/file", false},
	} {
		err := ValidName(test.name)
		if test.ok != (err == nil) {
			t.Errorf("ValidName(%q) = %v, want ok=%t", test.name, err, test.ok)
		}
		if err != nil && !linuxerr.Equals(linuxerr.ENOENT, err) {
			t.Errorf("ValidName(%q) = %v, want ENOENT", test.name, err)
		}
	}
}
