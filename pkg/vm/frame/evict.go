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

	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/page"
)

// errNoVictim is returned by evictOne when no frame can be evicted.
var errNoVictim = errors.New("no evictable frame")

// evictOne reclaims one frame and returns its page to the allocator.
func (t *Table) evictOne() error {
	f, err := t.selectVictim()
	if err != nil {
		return err
	}
	return t.relocate(f)
}

// slotAt returns the frame in slot i if it may be evicted, and the index of
// the slot after i.
func (t *Table) slotAt(i int) (*Frame, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.slots)
	if n == 0 {
		return nil, 0
	}
	if i >= n {
		i = 0
	}
	next := (i + 1) % n
	f := t.slots[i]
	if f == nil || f.pinned {
		return nil, next
	}
	return f, next
}

// claim removes f from the registry if it is still registered and unpinned.
// Exactly one caller can claim a frame.
func (t *Table) claim(f *Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.slot >= len(t.slots) || t.slots[f.slot] != f || f.pinned {
		return false
	}
	t.unregisterLocked(f)
	return true
}

// selectVictim runs the clock algorithm and returns a claimed frame.
//
// Starting at the hand, frames whose accessed bit is set have it cleared and
// are passed over; the first frame found with the bit clear is the victim.
// The sweep goes around the registry at most twice, so that every frame
// passed over on the first revolution is seen again with its bit clear. The
// hand is left on the victim's successor.
func (t *Table) selectVictim() (*Frame, error) {
	t.clockMu.Lock()
	defer t.clockMu.Unlock()

	t.mu.Lock()
	n := len(t.slots)
	t.mu.Unlock()

	for step := 0; step < 2*n; step++ {
		f, next := t.slotAt(t.hand)
		t.hand = next
		if f == nil {
			continue
		}
		pt := f.owner.PageTable()
		va := f.entry.Addr()
		if pt.IsAccessed(va) {
			pt.SetAccessed(va, false)
			t.secondChances.Add(1)
			continue
		}
		if t.claim(f) {
			return f, nil
		}
	}
	return nil, errNoVictim
}

// relocate moves the content of a claimed frame to where its page's origin
// says it belongs, unmaps it, and frees the physical page. If the content
// cannot be saved, the frame is registered again unchanged.
func (t *Table) relocate(f *Frame) error {
	e := f.entry
	pt := f.owner.PageTable()
	va := e.Addr()

	e.Lock()
	defer e.Unlock()

	if e.DeadLocked() {
		pt.Clear(va)
		t.alloc.PutPage(f.pa)
		t.evictions.Add(1)
		t.discards.Add(1)
		return nil
	}

	origin := e.OriginLocked()
	dirty := pt.IsDirty(va)
	var save bool
	switch origin.Kind() {
	case page.KindBinary:
		save = dirty
	case page.KindAnonymous, page.KindStack:
		save = true
	case page.KindMappedFile:
		panic(fmt.Sprintf("evicting %v: memory-mapped files are not supported", f))
	default:
		panic(fmt.Sprintf("evicting %v: unknown origin", f))
	}

	if save {
		r, err := t.swap.SwapOut(t.alloc.Slice(f.pa))
		if err != nil {
			t.reinstate(f)
			return fmt.Errorf("evicting %v: %w", f, err)
		}
		if log.IsLogging(log.Debug) {
			log.Debugf("Evicted %v to %v (dirty=%t)", f, r, dirty)
		}
		e.SetOriginLocked(page.WithSlot(origin, r))
		t.swapOuts.Add(1)
	} else {
		if log.IsLogging(log.Debug) {
			log.Debugf("Evicted %v, content discarded", f)
		}
		t.discards.Add(1)
	}
	pt.Clear(va)
	e.SetLoadedLocked(false)
	t.alloc.PutPage(f.pa)
	t.evictions.Add(1)
	return nil
}

// reinstate registers a claimed frame again.
func (t *Table) reinstate(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerLocked(f)
}
