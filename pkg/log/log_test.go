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
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %q, expected: %q", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: tw}}}
	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	if len(tw.lines) != 1 {
		t.Fatalf("got lines %q, want exactly one", tw.lines)
	}
	line := tw.lines[0]
	if line[0] != 'I' {
		t.Errorf("line %q does not start with the level", line)
	}
	if !strings.Contains(line, "log_test.go:") || !strings.HasSuffix(line, "] shown 1\n") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(l, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("flood %d", i)
	}
	if len(tw.lines) != 1 {
		t.Errorf("rate limited logger emitted %d lines, want 1", len(tw.lines))
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("rate limited logger hides the wrapped level")
	}
}

func TestRateLimitedSuppressedCount(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(l, 200*time.Millisecond)
	for i := 0; i < 5; i++ {
		rl.Infof("flood %d", i)
	}
	time.Sleep(300 * time.Millisecond)
	rl.Infof("after")
	if len(tw.lines) != 2 {
		t.Fatalf("got lines %q, want 2", tw.lines)
	}
	if !strings.Contains(tw.lines[1], "after (") || !strings.Contains(tw.lines[1], "similar messages suppressed)") {
		t.Errorf("line %q does not report suppressed messages", tw.lines[1])
	}
}

func TestFileOpts(t *testing.T) {
	opts := FileOpts{Command: "run", PID: 42, Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	if got, want := opts.Build("/logs/%COMMAND%.%PID%.%TIMESTAMP%"), "/logs/run.42.20260102-030405.000000"; got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}

	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "sub", "%COMMAND%.log"), opts)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if got, want := f.Name(), filepath.Join(dir, "sub", "run.log"); got != want {
		t.Errorf("file name = %q, want %q", got, want)
	}
	if f, err := OpenFile("", opts); f != nil || err != nil {
		t.Errorf("OpenFile with no pattern = %v, %v", f, err)
	}
}
