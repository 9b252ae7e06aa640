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

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"vmcore.dev/vmcore/pkg/vm/block"
	"vmcore.dev/vmcore/pkg/vm/config"
)

func smallConfig() *config.Config {
	conf := config.Default()
	conf.PoolPages = 8
	conf.SwapSectors = 1024
	return conf
}

func TestSimulate(t *testing.T) {
	var out bytes.Buffer
	if err := simulate(smallConfig(), 3, 12, 2000, 1, &out); err != nil {
		t.Fatalf("simulate failed: %v\noutput:\n%s", err, out.String())
	}
	for _, want := range []string{
		"Physical memory: 32 KiB in 8 pages, 8 free",
		"Swap: 0 B of 512 KiB in use",
		"Evictions:",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestSimulateSwapFile(t *testing.T) {
	conf := smallConfig()
	conf.SwapFile = filepath.Join(t.TempDir(), "swap")
	if err := block.Create(conf.SwapFile, 1024); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	var out bytes.Buffer
	if err := simulate(conf, 2, 10, 1000, 2, &out); err != nil {
		t.Fatalf("simulate failed: %v\noutput:\n%s", err, out.String())
	}

	// The swap file is unlocked again.
	d, err := block.Open(conf.SwapFile)
	if err != nil {
		t.Fatalf("Open after simulate failed: %v", err)
	}
	d.Close()
}

func TestSimulateTooManyProcesses(t *testing.T) {
	conf := smallConfig()
	if err := simulate(conf, conf.PoolPages+1, 4, 10, 1, &bytes.Buffer{}); err == nil {
		t.Errorf("simulate with more processes than physical pages succeeded")
	}
}

func TestSimulateSwapTooSmall(t *testing.T) {
	conf := smallConfig()
	// One run of swap cannot absorb the evicted anonymous pages.
	conf.SwapSectors = 8
	if err := simulate(conf, 1, 40, 4000, 3, &bytes.Buffer{}); err == nil {
		t.Errorf("simulate with a tiny swap device succeeded")
	}
}
