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
	"runtime"
	"strconv"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog. Lines look like:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is the level letter and pid is padded to seven columns.
type GoogleEmitter struct {
	*Writer
}

var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

var pid = fmt.Sprintf("%7d", os.Getpid())

// caller returns "file:line" for the function depth frames above the caller
// of caller.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "x:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var local [256]byte
	b := local[:0]
	if int(level) < len(levelLetters) {
		b = append(b, levelLetters[level])
	} else {
		b = append(b, '?')
	}
	b = timestamp.AppendFormat(b, "0102 15:04:05.000000 ")
	b = append(b, pid...)
	b = append(b, ' ')
	b = append(b, caller(depth+1)...)
	b = append(b, "] "...)
	b = append(b, format...)
	b = append(b, '\n')

	// The header is now part of the format; args are applied by the Writer.
	g.Writer.Emit(depth+1, level, timestamp, string(b), args...)
}
