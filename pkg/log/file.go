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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileOpts are the values substituted into a log file pattern.
type FileOpts struct {
	// Command replaces %COMMAND%.
	Command string

	// PID replaces %PID%.
	PID int

	// Time replaces %TIMESTAMP%.
	Time time.Time
}

// Build returns logPattern with the variables replaced.
func (o FileOpts) Build(logPattern string) string {
	return strings.NewReplacer(
		"%COMMAND%", o.Command,
		"%PID%", strconv.Itoa(o.PID),
		"%TIMESTAMP%", o.Time.Format("20060102-150405.000000"),
	).Replace(logPattern)
}

// OpenFile creates the log file named by logPattern, along with its parent
// directory. An empty pattern returns a nil file.
func OpenFile(logPattern string, opts FileOpts) (*os.File, error) {
	if len(logPattern) == 0 {
		return nil, nil
	}
	logPath := opts.Build(logPattern)

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", logPath, err)
	}
	return f, nil
}
