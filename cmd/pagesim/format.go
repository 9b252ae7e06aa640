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
	"context"
	"flag"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"vmcore.dev/vmcore/pkg/vm/block"
)

// Format implements subcommands.Command for the "format" command.
type Format struct {
	swap    string
	sectors uint
}

// Name implements subcommands.Command.
func (*Format) Name() string {
	return "format"
}

// Synopsis implements subcommands.Command.
func (*Format) Synopsis() string {
	return "creates an empty swap file"
}

// Usage implements subcommands.Command.
func (*Format) Usage() string {
	return `format -swap <path> [-sectors <n>]
`
}

// SetFlags implements subcommands.Command.
func (f *Format) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&f.swap, "swap", "", "path of the swap file to create.")
	fs.UintVar(&f.sectors, "sectors", 8192, "size of the swap file in sectors.")
}

// Execute implements subcommands.Command.Execute.
func (f *Format) Execute(_ context.Context, fs *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.swap == "" || fs.NArg() != 0 {
		fs.Usage()
		return subcommands.ExitUsageError
	}
	if f.sectors == 0 || uint64(f.sectors) > math.MaxUint32 {
		Fatalf("invalid sector count %d", f.sectors)
	}
	if err := block.Create(f.swap, uint32(f.sectors)); err != nil {
		Fatalf("creating swap file: %v", err)
	}
	fmt.Printf("Created %s: %d sectors (%s)\n", f.swap, f.sectors, humanize.IBytes(uint64(f.sectors)*block.SectorSize))
	return subcommands.ExitSuccess
}
