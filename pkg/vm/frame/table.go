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

package frame

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/page"
	"vmcore.dev/vmcore/pkg/vm/platform"
	"vmcore.dev/vmcore/pkg/vm/swap"
)

// ErrNoMemory is returned when a frame record cannot be allocated.
var ErrNoMemory = errors.New("cannot allocate frame record")

// Stats are frame table counters.
type Stats struct {
	// Resident is the number of registered frames.
	Resident uint64

	// Evictions is the number of frames reclaimed.
	Evictions uint64

	// SecondChances is the number of frames skipped because their accessed
	// bit was set.
	SecondChances uint64

	// Discards is the number of evictions that dropped content that could be
	// recovered from its origin.
	Discards uint64

	// SwapOuts is the number of evictions that wrote content to swap.
	SwapOuts uint64
}

// Table is the registry of resident frames, shared by all processes.
//
// Registered frames live in an arena of slots. A slot index stays a valid
// place to look even after its frame is removed, so the clock hand never
// dangles.
type Table struct {
	alloc platform.Allocator
	swap  *swap.Store

	// newFrame allocates frame records. It is replaced by tests.
	newFrame func() (*Frame, error)

	mu sync.Mutex

	// slots is the arena of registered frames. Empty slots are nil.
	//
	// +checklocks:mu
	slots []*Frame

	// free holds the indices of empty slots.
	//
	// +checklocks:mu
	free []int

	// byAddr maps each registered frame's physical page to the frame.
	//
	// +checklocks:mu
	byAddr map[platform.PhysAddr]*Frame

	// clockMu serializes eviction sweeps.
	clockMu sync.Mutex

	// hand is the slot at which the next sweep starts.
	//
	// +checklocks:clockMu
	hand int

	evictions     atomic.Uint64
	secondChances atomic.Uint64
	discards      atomic.Uint64
	swapOuts      atomic.Uint64
}

// New returns an empty Table that takes pages from alloc and evicts to s.
func New(alloc platform.Allocator, s *swap.Store) *Table {
	return &Table{
		alloc:    alloc,
		swap:     s,
		newFrame: func() (*Frame, error) { return &Frame{}, nil },
		slots:    make([]*Frame, 0, alloc.Capacity()),
		byAddr:   make(map[platform.PhysAddr]*Frame, alloc.Capacity()),
	}
}

// Acquire returns a pinned frame for page e of owner. If physical memory is
// exhausted, Acquire evicts frames until a page is available; it fails only
// if eviction fails or the frame record cannot be allocated.
//
// The caller must populate and map the frame, then Unpin it, or Release it on
// failure.
func (t *Table) Acquire(owner Owner, e *page.Entry) (*Frame, error) {
	pa, err := t.getPage()
	if err != nil {
		return nil, err
	}
	f, err := t.newFrame()
	if err != nil {
		t.alloc.PutPage(pa)
		return nil, fmt.Errorf("frame for %v: %w", e, err)
	}
	f.pa = pa
	f.owner = owner
	f.entry = e
	f.table = t

	t.mu.Lock()
	defer t.mu.Unlock()
	f.pinned = true
	t.registerLocked(f)
	return f, nil
}

// getPage takes a page from the allocator, evicting as needed.
func (t *Table) getPage() (platform.PhysAddr, error) {
	for {
		if pa, ok := t.alloc.GetPage(); ok {
			return pa, nil
		}
		switch err := t.evictOne(); {
		case err == nil:
		case errors.Is(err, errNoVictim):
			// Every frame is pinned by a fault in progress, or was
			// claimed by a concurrent eviction. Both finish without
			// needing memory.
			runtime.Gosched()
		default:
			return 0, err
		}
	}
}

// +checklocks:t.mu
func (t *Table) registerLocked(f *Frame) {
	if other, ok := t.byAddr[f.pa]; ok {
		panic(fmt.Sprintf("registering %v: physical page already held by %v", f, other))
	}
	if n := len(t.free); n > 0 {
		f.slot = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[f.slot] = f
	} else {
		f.slot = len(t.slots)
		t.slots = append(t.slots, f)
	}
	t.byAddr[f.pa] = f
}

// +checklocks:t.mu
func (t *Table) unregisterLocked(f *Frame) {
	t.slots[f.slot] = nil
	t.free = append(t.free, f.slot)
	delete(t.byAddr, f.pa)
}

// Release unregisters the frame holding pa and returns the page to the
// allocator. It does nothing if no frame holds pa.
func (t *Table) Release(pa platform.PhysAddr) {
	t.mu.Lock()
	f, ok := t.byAddr[pa]
	if ok {
		t.unregisterLocked(f)
	}
	t.mu.Unlock()
	if ok {
		t.alloc.PutPage(pa)
	}
}

// Find returns the frame holding pa, or nil.
func (t *Table) Find(pa platform.PhysAddr) *Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byAddr[pa]
}

// RemoveAll releases every frame of owner: each is unregistered, its page is
// unmapped and marked not loaded, and its physical page is returned to the
// allocator. It is called when owner is torn down.
func (t *Table) RemoveAll(owner Owner) {
	var frames []*Frame
	t.mu.Lock()
	for _, f := range t.slots {
		if f != nil && f.owner == owner {
			frames = append(frames, f)
			t.unregisterLocked(f)
		}
	}
	t.mu.Unlock()

	pt := owner.PageTable()
	for _, f := range frames {
		e := f.entry
		e.Lock()
		e.SetLoadedLocked(false)
		pt.Clear(e.Addr())
		e.Unlock()
		t.alloc.PutPage(f.pa)
	}
	if len(frames) > 0 {
		log.Debugf("Released %d frames of exiting process", len(frames))
	}
}

// Frames returns the frames currently registered to owner, in slot order.
func (t *Table) Frames(owner Owner) []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var frames []*Frame
	for _, f := range t.slots {
		if f != nil && f.owner == owner {
			frames = append(frames, f)
		}
	}
	return frames
}

// Len returns the number of registered frames.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

// Stats returns a snapshot of the table's counters.
func (t *Table) Stats() Stats {
	return Stats{
		Resident:      uint64(t.Len()),
		Evictions:     t.evictions.Load(),
		SecondChances: t.secondChances.Load(),
		Discards:      t.discards.Load(),
		SwapOuts:      t.swapOuts.Load(),
	}
}
