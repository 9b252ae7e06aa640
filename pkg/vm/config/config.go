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

// Package config holds the configuration of the virtual memory system.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
)

// Config is the configuration of a virtual memory system. The zero value is
// not valid; start from Default.
type Config struct {
	// PoolPages is the number of physical pages.
	PoolPages int `toml:"pool_pages"`

	// SwapSectors is the size of the in-memory swap device. It is ignored if
	// SwapFile is set.
	SwapSectors uint32 `toml:"swap_sectors"`

	// SwapFile is the path of a swap file created by "pagesim format". If
	// empty, swap is held in memory.
	SwapFile string `toml:"swap_file"`

	// StackTop is the address just above the highest stack page.
	StackTop uint64 `toml:"stack_top"`

	// MaxStackSize bounds how far the stack may grow below StackTop.
	MaxStackSize uint64 `toml:"max_stack_size"`

	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PoolPages:    64,
		SwapSectors:  8192,
		StackTop:     0xc0000000,
		MaxStackSize: 8 << 20,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads the TOML file at path over the defaults. Unknown keys are an
// error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

// Validate checks that c describes a usable system.
func (c *Config) Validate() error {
	if c.PoolPages <= 0 {
		return fmt.Errorf("pool_pages must be positive, got %d", c.PoolPages)
	}
	if hostarch.PageRoundDown(c.StackTop) != c.StackTop || c.StackTop == 0 {
		return fmt.Errorf("stack_top %#x is not a non-zero page aligned address", c.StackTop)
	}
	if c.MaxStackSize == 0 || c.MaxStackSize > c.StackTop {
		return fmt.Errorf("max_stack_size %d must be positive and at most stack_top", c.MaxStackSize)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q, must be text or json", c.LogFormat)
	}
	return nil
}

// Level returns the configured log level.
//
// Preconditions: c is valid.
func (c *Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		panic(err)
	}
	return l
}
