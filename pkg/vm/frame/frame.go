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

// Package frame tracks the physical pages that hold resident process pages,
// and reclaims them under memory pressure with the clock algorithm.
//
// Lock order:
//
//	page.Entry.mu (of a faulting page)
//	  Table.clockMu
//	    Table.mu
//	  page.Entry.mu (of an eviction victim)
//	    swap.Store.mu
//
// A victim's entry lock is only taken after clockMu is released, and only for
// a frame that was registered and unpinned, so its entry cannot be the one
// being faulted.
package frame

import (
	"fmt"

	"vmcore.dev/vmcore/pkg/vm/page"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// Owner is the process a frame belongs to.
type Owner interface {
	// PageTable returns the page table that maps the owner's frames.
	PageTable() platform.PageTable
}

// Frame is one physical page holding a resident process page.
type Frame struct {
	// pa, owner and entry are immutable once the frame is registered.
	pa    platform.PhysAddr
	owner Owner
	entry *page.Entry

	// slot is the frame's index in Table.slots while registered.
	//
	// +checklocks:Table.mu
	slot int

	// pinned frames are never chosen for eviction.
	//
	// +checklocks:Table.mu
	pinned bool

	// table is the Table the frame was acquired from.
	table *Table
}

// PhysAddr returns the frame's physical page.
func (f *Frame) PhysAddr() platform.PhysAddr {
	return f.pa
}

// Owner returns the process the frame belongs to.
func (f *Frame) Owner() Owner {
	return f.owner
}

// Entry returns the page the frame holds.
func (f *Frame) Entry() *page.Entry {
	return f.entry
}

// String implements fmt.Stringer.String.
func (f *Frame) String() string {
	return fmt.Sprintf("frame %v for %v", f.pa, f.entry)
}

// Unpin makes f eligible for eviction. It is called once f's content is
// populated and mapped.
func (f *Frame) Unpin() {
	f.table.mu.Lock()
	defer f.table.mu.Unlock()
	f.pinned = false
}
