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

// Package platform defines the interfaces between the virtual memory core and
// the machine it runs on: the physical page allocator, the page tables
// maintained for the MMU, and the block device backing swap.
package platform

import (
	"fmt"
	"io"

	"vmcore.dev/vmcore/pkg/hostarch"
)

// SectorSize is the size in bytes of one block device sector.
const SectorSize = 512

// PhysAddr is an opaque handle to one physical page, as returned by an
// Allocator. The zero PhysAddr never names a page.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (pa PhysAddr) String() string {
	return fmt.Sprintf("pa:%#x", uint64(pa))
}

// Allocator is a fixed-size pool of physical pages.
//
// Implementations must be safe for concurrent use.
type Allocator interface {
	// GetPage removes a page from the pool. ok is false if the pool is
	// exhausted.
	GetPage() (pa PhysAddr, ok bool)

	// PutPage returns a page obtained from GetPage to the pool.
	PutPage(pa PhysAddr)

	// Slice returns the page's content. The returned slice is exactly
	// hostarch.PageSize bytes long and is only valid until the page is
	// returned with PutPage.
	Slice(pa PhysAddr) []byte

	// Capacity returns the total number of pages in the pool.
	Capacity() int
}

// PageTable is the per-process hardware page table, mapping virtual pages to
// physical pages. The accessed and dirty bits are maintained by the MMU.
//
// Implementations must be safe for concurrent use.
type PageTable interface {
	// Install maps the page at va to pa. It returns false if va is already
	// mapped or the mapping cannot be created.
	Install(va hostarch.Addr, pa PhysAddr, writable bool) bool

	// IsAccessed returns the accessed bit of va's mapping.
	IsAccessed(va hostarch.Addr) bool

	// SetAccessed sets the accessed bit of va's mapping.
	SetAccessed(va hostarch.Addr, accessed bool)

	// IsDirty returns the dirty bit of va's mapping.
	IsDirty(va hostarch.Addr) bool

	// Clear removes va's mapping, so that the next access faults.
	Clear(va hostarch.Addr)
}

// MMU is a PageTable that can also perform translations on behalf of the
// process, as the hardware does on every access.
type MMU interface {
	PageTable

	// Translate returns the physical page backing va for an access of the
	// given type, updating the accessed and dirty bits. It returns a
	// *FaultError if the access faults.
	Translate(va hostarch.Addr, at hostarch.AccessType) (PhysAddr, error)
}

// FaultError is returned by MMU.Translate for an access that faults.
type FaultError struct {
	// Addr is the faulting address.
	Addr hostarch.Addr

	// Access is the type of the faulting access.
	Access hostarch.AccessType

	// Present is true if the page was mapped, i.e. the fault is a
	// protection violation rather than a missing page.
	Present bool
}

// Error implements error.Error.
func (e *FaultError) Error() string {
	if e.Present {
		return fmt.Sprintf("protection fault: %s access to %v", e.Access, e.Addr)
	}
	return fmt.Sprintf("page fault: %s access to %v", e.Access, e.Addr)
}

// BlockDevice is a fixed-size array of sectors.
//
// Concurrent calls on distinct sectors must be safe.
type BlockDevice interface {
	// ReadSector reads sector into buf, which must be SectorSize bytes.
	ReadSector(sector uint32, buf []byte) error

	// WriteSector writes buf, which must be SectorSize bytes, to sector.
	WriteSector(sector uint32, buf []byte) error

	// Sectors returns the number of sectors on the device.
	Sectors() uint32
}

// File is the content source of a file-backed page: an executable or other
// file opened by the process.
type File = io.ReaderAt
