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

// Package cmd holds implementations of the trapgate commands.
package cmd

import (
	"fmt"

	"trapgate.dev/trapgate/pkg/sentry/loader"
	"trapgate.dev/trapgate/trapgate/cmd/util"
)

// Fatalf is util.Fatalf, for brevity within the package.
var Fatalf = util.Fatalf

// readPrograms parses every program image named in paths. All errors are
// reported, not only the first.
func readPrograms(paths []string) ([]*loader.Program, error) {
	var (
		progs []*loader.Program
		bad   int
	)
	for _, path := range paths {
		p, err := loader.ParseFile(path)
		if err != nil {
			util.Errorf("%v", err)
			bad++
			continue
		}
		progs = append(progs, p)
	}
	if bad > 0 {
		return nil, fmt.Errorf("%d of %d program images are invalid", bad, len(paths))
	}
	return progs, nil
}
