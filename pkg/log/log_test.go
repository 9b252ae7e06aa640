// Copyright 2018 The gVisor Authors.
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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
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

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

// recordingEmitter records the formatted messages it receives.
type recordingEmitter struct {
	levels []Level
	msgs   []string
}

func (r *recordingEmitter) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	r.levels = append(r.levels, level)
	r.msgs = append(r.msgs, fmt.Sprintf(format, v...))
}

func TestBasicLoggerLevels(t *testing.T) {
	for _, test := range []struct {
		level Level
		want  []Level
	}{
		{level: Warning, want: []Level{Warning}},
		{level: Info, want: []Level{Info, Warning}},
		{level: Debug, want: []Level{Debug, Info, Warning}},
	} {
		t.Run(test.level.String(), func(t *testing.T) {
			r := &recordingEmitter{}
			l := &BasicLogger{Level: test.level, Emitter: r}
			l.Debugf("debug")
			l.Infof("info")
			l.Warningf("warning")
			if diff := cmp.Diff(test.want, r.levels); diff != "" {
				t.Errorf("emitted levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"":        Info,
		"info":    Info,
		"WARNING": Warning,
		"warn":    Warning,
		"debug":   Debug,
	} {
		got, err := ParseLevel(s)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, nil)", s, got, err, want)
		}
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Errorf("ParseLevel(chatty) succeeded")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2025, time.May, 7, 13, 4, 5, 123456000, time.UTC)
	e.Emit(0, Warning, ts, "swap %d%% full", 95)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0507 13:04:05.123456 ") {
		t.Errorf("line %q has unexpected header", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("line %q does not name the caller", line)
	}
	if !strings.HasSuffix(line, "] swap 95% full\n") {
		t.Errorf("line %q has unexpected message", line)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	r := &recordingEmitter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: r}, time.Hour)
	for i := 0; i < 5; i++ {
		l.Warningf("pressure %d", i)
	}
	if diff := cmp.Diff([]string{"pressure 0"}, r.msgs); diff != "" {
		t.Errorf("unexpected messages (-want +got):\n%s", diff)
	}
	rl := l.(*rateLimitedLogger)
	if got := rl.suppressed.Load(); got != 4 {
		t.Errorf("suppressed = %d, want 4", got)
	}
}
