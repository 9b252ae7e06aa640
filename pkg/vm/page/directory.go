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

// Package page holds per-process page metadata: for every declared virtual
// page, where its content comes from and whether it is resident.
//
// Lock order:
//
//	Directory.mu
//	  Entry.mu
package page

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	"vmcore.dev/vmcore/pkg/cleanup"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
	"vmcore.dev/vmcore/pkg/vm/swap"
)

// ErrExists is returned when declaring a page that is already declared.
var ErrExists = errors.New("page already declared")

// degree is the B-tree degree of a Directory.
const degree = 16

func entryLess(a, b *Entry) bool {
	return a.addr < b.addr
}

// Directory is the set of declared pages of one process, ordered by address.
type Directory struct {
	mu sync.RWMutex

	// +checklocks:mu
	entries *btree.BTreeG[*Entry]
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{entries: btree.NewG(degree, entryLess)}
}

// Declare adds a page at va with the given origin.
//
// Preconditions:
//   - va is page aligned.
//   - For file-backed origins, ReadBytes+ZeroBytes is the page size, and
//     Offset is page aligned if ReadBytes is non-zero.
func (d *Directory) Declare(origin Origin, va hostarch.Addr, writable bool) (*Entry, error) {
	e := NewEntry(origin, va, writable)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(e); ok {
		return nil, fmt.Errorf("declaring %v: %w", va, ErrExists)
	}
	d.entries.ReplaceOrInsert(e)
	return e, nil
}

// DeclareSegment declares the pages of an executable segment: readBytes bytes
// of file starting at offset, followed by zeroBytes zero bytes, mapped at va.
// Either every page is declared or, on error, none is.
//
// Preconditions: va and offset are page aligned, and readBytes+zeroBytes is a
// multiple of the page size.
func (d *Directory) DeclareSegment(file platform.File, offset int64, va hostarch.Addr, readBytes, zeroBytes uint64, writable bool) error {
	if (readBytes+zeroBytes)%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("segment size %d+%d is not a multiple of the page size", readBytes, zeroBytes))
	}
	if hostarch.PageRoundDown(offset) != offset {
		panic(fmt.Sprintf("segment offset %#x is not page aligned", offset))
	}

	var cu cleanup.Cleanup
	defer cu.Clean()
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, hostarch.PageSize)
		pageZero := hostarch.PageSize - pageRead
		origin := Binary{FileRange{
			File:      file,
			Offset:    offset,
			ReadBytes: uint32(pageRead),
			ZeroBytes: uint32(pageZero),
		}}
		if _, err := d.Declare(origin, va, writable); err != nil {
			return err
		}
		declared := va
		cu.Add(func() { d.Remove(declared) })

		readBytes -= pageRead
		zeroBytes -= pageZero
		offset += int64(pageRead)
		va += hostarch.PageSize
	}
	cu.Release()
	return nil
}

// Lookup returns the entry for the page containing va, or nil.
func (d *Directory) Lookup(va hostarch.Addr) *Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, _ := d.entries.Get(&Entry{addr: va.RoundDown()})
	return e
}

// Remove removes the page containing va and returns its entry, or nil if no
// such page is declared.
func (d *Directory) Remove(va hostarch.Addr) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, _ := d.entries.Delete(&Entry{addr: va.RoundDown()})
	return e
}

// Len returns the number of declared pages.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries.Len()
}

// Ascend calls fn for each entry in address order until fn returns false.
// fn must not call back into d.
func (d *Directory) Ascend(fn func(e *Entry) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.entries.Ascend(btree.ItemIteratorG[*Entry](fn))
}

// Destroy marks every entry dead, passes the swap slot of each swapped-out
// page to freeSlot, and empties d.
//
// Preconditions: no page of d is resident.
func (d *Directory) Destroy(freeSlot func(swap.Run)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries.Ascend(func(e *Entry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.MarkDeadLocked()
		if r, ok := SwapSlot(e.origin); ok {
			freeSlot(r)
			e.origin = WithoutSlot(e.origin)
		}
		return true
	})
	d.entries.Clear(false)
}
