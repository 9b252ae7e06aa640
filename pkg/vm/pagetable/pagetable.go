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

// Package pagetable implements a software MMU: a per-process page table whose
// accessed and dirty bits are maintained by Translate, as hardware would on
// each access.
package pagetable

import (
	"fmt"
	"sort"
	"sync"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// pte is a single page table entry.
type pte struct {
	pa       platform.PhysAddr
	writable bool
	accessed bool
	dirty    bool
}

// Table implements platform.MMU.
//
// The zero value is not usable; use New.
type Table struct {
	mu sync.Mutex

	// ptes maps page-aligned virtual addresses to their entries.
	//
	// +checklocks:mu
	ptes map[hostarch.Addr]*pte

	// failInstall makes the next Install calls fail. Used by tests.
	//
	// +checklocks:mu
	failInstall int
}

var _ platform.MMU = (*Table)(nil)

// New returns an empty Table.
func New() *Table {
	return &Table{ptes: make(map[hostarch.Addr]*pte)}
}

// Install implements platform.PageTable.Install.
func (t *Table) Install(va hostarch.Addr, pa platform.PhysAddr, writable bool) bool {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("Install: unaligned address %v", va))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failInstall > 0 {
		t.failInstall--
		return false
	}
	if _, ok := t.ptes[va]; ok {
		return false
	}
	t.ptes[va] = &pte{pa: pa, writable: writable}
	return true
}

// IsAccessed implements platform.PageTable.IsAccessed.
func (t *Table) IsAccessed(va hostarch.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ptes[va.RoundDown()]
	return ok && p.accessed
}

// SetAccessed implements platform.PageTable.SetAccessed.
func (t *Table) SetAccessed(va hostarch.Addr, accessed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.ptes[va.RoundDown()]; ok {
		p.accessed = accessed
	}
}

// IsDirty implements platform.PageTable.IsDirty.
func (t *Table) IsDirty(va hostarch.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ptes[va.RoundDown()]
	return ok && p.dirty
}

// Clear implements platform.PageTable.Clear.
func (t *Table) Clear(va hostarch.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ptes, va.RoundDown())
}

// Translate implements platform.MMU.Translate.
func (t *Table) Translate(va hostarch.Addr, at hostarch.AccessType) (platform.PhysAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ptes[va.RoundDown()]
	if !ok {
		return 0, &platform.FaultError{Addr: va, Access: at}
	}
	if at.Write && !p.writable {
		return 0, &platform.FaultError{Addr: va, Access: at, Present: true}
	}
	p.accessed = true
	if at.Write {
		p.dirty = true
	}
	return p.pa, nil
}

// FailNextInstalls makes the next n calls to Install fail.
func (t *Table) FailNextInstalls(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failInstall = n
}

// Len returns the number of installed mappings.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ptes)
}

// Mapping describes one installed mapping.
type Mapping struct {
	Addr     hostarch.Addr
	Phys     platform.PhysAddr
	Writable bool
	Accessed bool
	Dirty    bool
}

// Mappings returns a snapshot of all installed mappings in address order.
func (t *Table) Mappings() []Mapping {
	t.mu.Lock()
	ms := make([]Mapping, 0, len(t.ptes))
	for va, p := range t.ptes {
		ms = append(ms, Mapping{
			Addr:     va,
			Phys:     p.pa,
			Writable: p.writable,
			Accessed: p.accessed,
			Dirty:    p.dirty,
		})
	}
	t.mu.Unlock()
	sort.Slice(ms, func(i, j int) bool { return ms[i].Addr < ms[j].Addr })
	return ms
}
