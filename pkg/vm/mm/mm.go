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

// Package mm implements demand paging: per-process address spaces whose pages
// are materialized on fault from an executable, from swap, or from nothing,
// over a physical page pool shared by all processes.
//
// Lock order:
//
//	page.Directory.mu
//	  page.Entry.mu
//	    frame.Table locks (see package frame)
//	    platform.PageTable implementation locks
//	    swap.Store.mu
//
// Accesses made through the MMU by CopyIn and CopyOut hold the page's entry
// lock, so they never overlap with the eviction of that page.
package mm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/config"
	"vmcore.dev/vmcore/pkg/vm/frame"
	"vmcore.dev/vmcore/pkg/vm/page"
	"vmcore.dev/vmcore/pkg/vm/platform"
	"vmcore.dev/vmcore/pkg/vm/swap"
)

var (
	// ErrBadAddress is returned for accesses to undeclared pages, and for
	// accesses the page's protection forbids.
	ErrBadAddress = errors.New("bad address")

	// ErrShortRead is returned when a page's file ends before its declared
	// content does.
	ErrShortRead = errors.New("short read from page origin")

	// ErrInstall is returned when a resolved page cannot be mapped.
	ErrInstall = errors.New("cannot install mapping")
)

// System is the state shared by every process: physical memory, swap, and the
// frame table.
type System struct {
	conf   config.Config
	alloc  platform.Allocator
	swap   *swap.Store
	frames *frame.Table

	// lastID is the ID of the most recently created MemoryManager.
	lastID atomic.Uint64
}

// NewSystem returns a System over alloc, swapping to dev.
func NewSystem(conf *config.Config, alloc platform.Allocator, dev platform.BlockDevice) (*System, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := swap.New(dev)
	sys := &System{
		conf:   *conf,
		alloc:  alloc,
		swap:   s,
		frames: frame.New(alloc, s),
	}
	log.Infof("Virtual memory system ready: %d physical pages, %d swap slots", alloc.Capacity(), s.Stats().Runs)
	return sys, nil
}

// Frames returns the system's frame table.
func (s *System) Frames() *frame.Table {
	return s.frames
}

// Swap returns the system's swap store.
func (s *System) Swap() *swap.Store {
	return s.swap
}

// MemoryManager is the address space of one process.
//
// Faults may be handled concurrently with each other and with evictions
// started by other processes.
type MemoryManager struct {
	sys *System

	// id identifies the process in logs. It is immutable.
	id uint64

	mmu platform.MMU
	dir *page.Directory
}

var _ frame.Owner = (*MemoryManager)(nil)

// NewMemoryManager returns an empty address space mapped by mmu.
func (s *System) NewMemoryManager(mmu platform.MMU) *MemoryManager {
	return &MemoryManager{
		sys: s,
		id:  s.lastID.Add(1),
		mmu: mmu,
		dir: page.NewDirectory(),
	}
}

// ID returns the process's ID.
func (mm *MemoryManager) ID() uint64 {
	return mm.id
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	return fmt.Sprintf("process %d", mm.id)
}

// PageTable implements frame.Owner.PageTable.
func (mm *MemoryManager) PageTable() platform.PageTable {
	return mm.mmu
}

// DeclarePage declares the page at va. See page.Directory.Declare.
func (mm *MemoryManager) DeclarePage(origin page.Origin, va hostarch.Addr, writable bool) (*page.Entry, error) {
	return mm.dir.Declare(origin, va, writable)
}

// DeclareSegment declares the pages of an executable segment. See
// page.Directory.DeclareSegment.
func (mm *MemoryManager) DeclareSegment(file platform.File, offset int64, va hostarch.Addr, readBytes, zeroBytes uint64, writable bool) error {
	return mm.dir.DeclareSegment(file, offset, va, readBytes, zeroBytes, writable)
}

// Lookup returns the entry of the page containing va, or nil.
func (mm *MemoryManager) Lookup(va hostarch.Addr) *page.Entry {
	return mm.dir.Lookup(va)
}

// ResidentPages returns the number of the process's pages in physical memory.
func (mm *MemoryManager) ResidentPages() int {
	return len(mm.sys.frames.Frames(mm))
}

// DeclaredPages returns the number of the process's declared pages.
func (mm *MemoryManager) DeclaredPages() int {
	return mm.dir.Len()
}

// Release tears down the address space: every resident page is unmapped and
// its physical page freed, then every swap slot the process holds is freed.
// The MemoryManager must not be used afterwards.
func (mm *MemoryManager) Release() {
	mm.sys.frames.RemoveAll(mm)
	mm.dir.Destroy(mm.sys.swap.Free)
	log.Debugf("Released address space of %v", mm)
}
