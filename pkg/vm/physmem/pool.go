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

// Package physmem provides a fixed-capacity pool of physical pages carved out
// of a single anonymous host mapping.
package physmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"vmcore.dev/vmcore/pkg/bitmap"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// base is the physical address of the first page in every Pool. It is
// non-zero so that a zero PhysAddr is never a valid page.
const base = platform.PhysAddr(1 << 20)

// Pool implements platform.Allocator.
//
// Pages are handed out zeroed: a page is cleared when it is returned, and a
// fresh anonymous mapping is zero-filled by the host.
type Pool struct {
	// mem is the mapping backing every page in the pool. It is immutable
	// until Close.
	mem []byte

	// pages is the number of pages in mem.
	pages uint32

	// mu protects the fields below.
	mu sync.Mutex

	// used has one bit per page, set while the page is allocated.
	used bitmap.Bitmap

	// next is where the next search for a free page begins.
	next uint32
}

var _ platform.Allocator = (*Pool)(nil)

// NewPool maps a pool of the given number of pages.
func NewPool(pages int) (*Pool, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", pages)
	}
	mem, err := unix.Mmap(-1, 0, pages*hostarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d pages: %w", pages, err)
	}
	return &Pool{
		mem:   mem,
		pages: uint32(pages),
		used:  bitmap.New(uint32(pages)),
	}, nil
}

// Close unmaps the pool. No page may be used after Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// GetPage implements platform.Allocator.GetPage.
func (p *Pool) GetPage() (platform.PhysAddr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, err := p.used.FirstZero(p.next)
	if err != nil && p.next != 0 {
		idx, err = p.used.FirstZero(0)
	}
	if err != nil {
		return 0, false
	}
	p.used.Add(idx)
	p.next = (idx + 1) % p.pages
	return base + platform.PhysAddr(idx)<<hostarch.PageShift, true
}

// PutPage implements platform.Allocator.PutPage.
func (p *Pool) PutPage(pa platform.PhysAddr) {
	idx := p.index(pa)
	clear(p.mem[int(idx)*hostarch.PageSize : int(idx+1)*hostarch.PageSize])

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.used.Contains(idx) {
		panic(fmt.Sprintf("PutPage(%v): page is not allocated", pa))
	}
	p.used.Remove(idx)
}

// Slice implements platform.Allocator.Slice.
func (p *Pool) Slice(pa platform.PhysAddr) []byte {
	off := int(p.index(pa)) * hostarch.PageSize
	return p.mem[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Capacity implements platform.Allocator.Capacity.
func (p *Pool) Capacity() int {
	return int(p.pages)
}

// Free returns the number of unallocated pages.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.pages - p.used.GetNumOnes())
}

// index converts a physical address to a page index, panicking on addresses
// that this pool never handed out.
func (p *Pool) index(pa platform.PhysAddr) uint32 {
	if pa < base || (pa-base)%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("%v is not a page in this pool", pa))
	}
	idx := uint64(pa-base) >> hostarch.PageShift
	if idx >= uint64(p.pages) {
		panic(fmt.Sprintf("%v is beyond the end of the pool", pa))
	}
	return uint32(idx)
}
