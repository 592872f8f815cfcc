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

// Package util groups helpers shared by the trapgate commands.
package util

import (
	"fmt"
	"io"
	"os"

	"trapgate.dev/trapgate/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of trapgate, in addition to stderr.
var ErrorLogger io.Writer

// Errorf logs error to the log and to ErrorLogger.
func Errorf(format string, args ...any) {
	log.Warningf(format, args...)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
}

// Fatalf logs the same way as Errorf, then exits with status 128.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}
