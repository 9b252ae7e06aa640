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

// Binary pagesim drives the virtual memory system with simulated processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/config"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Format), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// Fatalf logs the message, writes it to stderr and exits with code 1.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, "pagesim: "+format+"\n", args...)
	os.Exit(1)
}

// newEmitter returns an emitter writing to w in the given format.
func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	}
	Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

// setupLogging directs logs to stderr as conf asks.
func setupLogging(conf *config.Config) {
	log.SetTarget(newEmitter(conf.LogFormat, os.Stderr))
	log.SetLevel(conf.Level())
}

// loadConfig returns the configuration at path, or the defaults if path is
// empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
