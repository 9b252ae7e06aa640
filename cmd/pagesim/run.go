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
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"vmcore.dev/vmcore/pkg/cleanup"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/block"
	"vmcore.dev/vmcore/pkg/vm/config"
	"vmcore.dev/vmcore/pkg/vm/mm"
	"vmcore.dev/vmcore/pkg/vm/physmem"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	config  string
	procs   int
	pages   int
	touches int
	seed    int64
}

// Name implements subcommands.Command.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.
func (*Run) Synopsis() string {
	return "runs simulated processes that overcommit physical memory"
}

// Usage implements subcommands.Command.
func (*Run) Usage() string {
	return `run [flags]

Starts processes that each declare a text segment, anonymous memory and a
stack, then read and write them at random. Every read is checked against the
last write, so content lost by eviction is reported as an error.
`
}

// SetFlags implements subcommands.Command.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.config, "config", "", "path to a TOML configuration file.")
	f.IntVar(&r.procs, "procs", 4, "number of processes.")
	f.IntVar(&r.pages, "pages", 32, "pages declared by each process.")
	f.IntVar(&r.touches, "touches", 10000, "memory accesses made by each process.")
	f.Int64Var(&r.seed, "seed", 0, "random seed; 0 picks one from the clock.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || r.procs <= 0 || r.pages <= 0 || r.touches < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, err := loadConfig(r.config)
	if err != nil {
		Fatalf("%v", err)
	}
	setupLogging(conf)

	seed := r.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Infof("Running %d processes of %d pages, seed %d", r.procs, r.pages, seed)

	if err := simulate(conf, r.procs, r.pages, r.touches, seed, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// openSwap returns the swap device conf asks for and a function that closes
// it.
func openSwap(conf *config.Config) (platform.BlockDevice, func(), error) {
	if conf.SwapFile == "" {
		return block.NewMemDevice(conf.SwapSectors), func() {}, nil
	}
	d, err := block.Open(conf.SwapFile)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := d.Close(); err != nil {
			log.Warningf("Closing swap file %q: %v", conf.SwapFile, err)
		}
	}, nil
}

// simulate runs procs workloads concurrently on a fresh system and writes the
// system's counters to out.
func simulate(conf *config.Config, procs, pages, touches int, seed int64, out io.Writer) error {
	// A process holds at most one pinned frame at a time, and Acquire waits
	// until some frame is unpinned.
	if procs > conf.PoolPages {
		return fmt.Errorf("%d processes cannot share %d physical pages", procs, conf.PoolPages)
	}
	pool, err := physmem.NewPool(conf.PoolPages)
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() {
		if err := pool.Close(); err != nil {
			log.Warningf("Releasing physical memory: %v", err)
		}
	})
	defer cu.Clean()

	dev, closeSwap, err := openSwap(conf)
	if err != nil {
		return err
	}
	cu.Add(closeSwap)

	sys, err := mm.NewSystem(conf, pool, dev)
	if err != nil {
		return err
	}

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < procs; i++ {
		w := &workload{
			pages:   pages,
			touches: touches,
			rng:     rand.New(rand.NewSource(seed + int64(i))),
		}
		g.Go(func() error {
			return w.run(sys, hostarch.Addr(conf.StackTop))
		})
	}
	err = g.Wait()
	printStats(out, sys, pool, time.Since(start))
	return err
}

func printStats(out io.Writer, sys *mm.System, pool *physmem.Pool, elapsed time.Duration) {
	fs := sys.Frames().Stats()
	ss := sys.Swap().Stats()
	runBytes := func(n uint64) string {
		return humanize.IBytes(n * hostarch.PageSize)
	}
	fmt.Fprintf(out, "Physical memory: %s in %d pages, %d free\n",
		humanize.IBytes(uint64(pool.Capacity())*hostarch.PageSize), pool.Capacity(), pool.Free())
	fmt.Fprintf(out, "Swap: %s of %s in use\n", runBytes(ss.UsedRuns), runBytes(ss.Runs))
	fmt.Fprintf(out, "Evictions: %s (%s second chances, %s discarded, %s swapped out)\n",
		humanize.Comma(int64(fs.Evictions)), humanize.Comma(int64(fs.SecondChances)),
		humanize.Comma(int64(fs.Discards)), humanize.Comma(int64(fs.SwapOuts)))
	fmt.Fprintf(out, "Swap traffic: %s out, %s in\n", runBytes(ss.SwapOuts), runBytes(ss.SwapIns))
	fmt.Fprintf(out, "Elapsed: %v\n", elapsed.Round(time.Millisecond))
}
