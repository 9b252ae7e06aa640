// Copyright 2025 The gVisor Authors.
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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vmcore.dev/vmcore/pkg/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vm.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() got err %v want nil", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
pool_pages = 16
swap_file = "/tmp/swap"
log_level = "debug"
log_format = "json"
`)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load got err %v want nil", err)
	}
	want := Default()
	want.PoolPages = 16
	want.SwapFile = "/tmp/swap"
	want.LogLevel = "debug"
	want.LogFormat = "json"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got.Level() != log.Debug {
		t.Errorf("Level() = %v, want %v", got.Level(), log.Debug)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "pool_pagez = 3\n", "pool_pagez"},
		{"bad syntax", "pool_pages = \n", "reading config"},
		{"zero pool", "pool_pages = 0\n", "pool_pages"},
		{"unaligned stack", "stack_top = 0x1001\n", "stack_top"},
		{"stack too big", "stack_top = 0x1000\nmax_stack_size = 0x2000\n", "max_stack_size"},
		{"bad level", "log_level = \"loud\"\n", "loud"},
		{"bad format", "log_format = \"xml\"\n", "xml"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load got err %v, want error mentioning %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}
