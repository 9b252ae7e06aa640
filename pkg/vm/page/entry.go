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

package page

import (
	"fmt"
	"sync"

	"vmcore.dev/vmcore/pkg/hostarch"
)

// Entry describes one virtual page of a process.
//
// An Entry is mutated both by faults in its owning process and by evictions
// running on any thread, so mutable state is guarded by the Entry's own lock.
type Entry struct {
	// addr and writable are immutable.
	addr     hostarch.Addr
	writable bool

	mu sync.Mutex

	// loaded is true while the page is resident and mapped.
	//
	// +checklocks:mu
	loaded bool

	// origin is where the page's content currently lives.
	//
	// +checklocks:mu
	origin Origin

	// dead is set when the owning process is torn down.
	//
	// +checklocks:mu
	dead bool
}

// NewEntry returns an unloaded entry for the page at va.
func NewEntry(origin Origin, va hostarch.Addr, writable bool) *Entry {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("page address %v is not page aligned", va))
	}
	origin.validate()
	return &Entry{addr: va, writable: writable, origin: origin}
}

// String implements fmt.Stringer.String. It does not lock e.
func (e *Entry) String() string {
	return fmt.Sprintf("page %v", e.addr)
}

// Addr returns the page's virtual address.
func (e *Entry) Addr() hostarch.Addr {
	return e.addr
}

// Writable returns true if the page is mapped writable.
func (e *Entry) Writable() bool {
	return e.writable
}

// Lock locks e.
func (e *Entry) Lock() {
	e.mu.Lock()
}

// Unlock unlocks e.
func (e *Entry) Unlock() {
	e.mu.Unlock()
}

// Origin returns the page's current origin.
func (e *Entry) Origin() Origin {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.origin
}

// OriginLocked is Origin with e locked.
//
// +checklocks:e.mu
func (e *Entry) OriginLocked() Origin {
	return e.origin
}

// SetOriginLocked replaces the page's origin.
//
// +checklocks:e.mu
func (e *Entry) SetOriginLocked(o Origin) {
	o.validate()
	e.origin = o
}

// Kind returns the kind of the page's current origin.
func (e *Entry) Kind() Kind {
	return e.Origin().Kind()
}

// Loaded returns true if the page is resident.
func (e *Entry) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// LoadedLocked is Loaded with e locked.
//
// +checklocks:e.mu
func (e *Entry) LoadedLocked() bool {
	return e.loaded
}

// SetLoadedLocked records whether the page is resident.
//
// +checklocks:e.mu
func (e *Entry) SetLoadedLocked(loaded bool) {
	e.loaded = loaded
}

// DeadLocked returns true if the owning process has been torn down.
//
// +checklocks:e.mu
func (e *Entry) DeadLocked() bool {
	return e.dead
}

// MarkDeadLocked records that the owning process has been torn down.
//
// +checklocks:e.mu
func (e *Entry) MarkDeadLocked() {
	e.dead = true
}
