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

// Package swap implements the swap store: a slot allocator over a block
// device in which each slot, or run, holds exactly one page.
//
// Lock order:
//
//	Store.mu
//	  (no other locks)
//
// Device I/O is never performed with Store.mu held.
package swap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vmcore.dev/vmcore/pkg/bitmap"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// SectorsPerPage is the number of sectors in a run.
const SectorsPerPage = hostarch.PageSize / platform.SectorSize

// pressurePercent is the usage above which swap pressure is reported.
const pressurePercent = 90

// ErrOutOfSwapSpace is returned when no free run remains.
var ErrOutOfSwapSpace = errors.New("out of swap space")

// Run is the index of the first sector of a run. Valid runs are multiples of
// SectorsPerPage.
type Run uint32

// String implements fmt.Stringer.String.
func (r Run) String() string {
	return fmt.Sprintf("run:%d", uint32(r))
}

func (r Run) aligned() bool {
	return r%SectorsPerPage == 0
}

// Stats are swap store counters.
type Stats struct {
	// Runs is the number of runs the device can hold.
	Runs uint64

	// UsedRuns is the number of runs currently occupied.
	UsedRuns uint64

	// SwapOuts is the number of pages written out.
	SwapOuts uint64

	// SwapIns is the number of pages read back in.
	SwapIns uint64
}

// Store allocates runs on a block device and moves pages in and out of them.
type Store struct {
	dev platform.BlockDevice

	// runs is the number of whole runs on dev. It is immutable.
	runs uint32

	// pressure reports high swap usage.
	pressure log.Logger

	mu sync.Mutex

	// used has one bit per sector. The bits of a run are always all set or
	// all clear.
	//
	// +checklocks:mu
	used bitmap.Bitmap

	// +checklocks:mu
	swapOuts uint64

	// +checklocks:mu
	swapIns uint64
}

// New returns a Store over dev. Trailing sectors that do not make up a whole
// run are never used.
func New(dev platform.BlockDevice) *Store {
	runs := dev.Sectors() / SectorsPerPage
	return &Store{
		dev:      dev,
		runs:     runs,
		pressure: log.BasicRateLimitedLogger(30 * time.Second),
		used:     bitmap.New(runs * SectorsPerPage),
	}
}

// AllocateRun reserves n contiguous sectors starting on a run boundary. n
// must be a positive multiple of SectorsPerPage.
func (s *Store) AllocateRun(n uint32) (Run, error) {
	if n == 0 || n%SectorsPerPage != 0 {
		panic(fmt.Sprintf("AllocateRun(%d): size is not a whole number of runs", n))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.used.FindClearRun(n, SectorsPerPage)
	if !ok {
		return 0, ErrOutOfSwapSpace
	}
	s.used.SetRange(start, start+n)
	s.checkPressureLocked()
	return Run(start), nil
}

// +checklocks:s.mu
func (s *Store) checkPressureLocked() {
	used := uint64(s.used.GetNumOnes() / SectorsPerPage)
	if used*100 >= uint64(s.runs)*pressurePercent {
		s.pressure.Warningf("Swap usage high: %d of %d runs in use", used, s.runs)
	}
}

// WriteOut writes page to run r.
func (s *Store) WriteOut(r Run, page []byte) error {
	if !r.aligned() {
		panic(fmt.Sprintf("WriteOut: %v is not run-aligned", r))
	}
	if len(page) != hostarch.PageSize {
		panic(fmt.Sprintf("WriteOut: page is %d bytes, want %d", len(page), hostarch.PageSize))
	}
	for i := uint32(0); i < SectorsPerPage; i++ {
		buf := page[i*platform.SectorSize : (i+1)*platform.SectorSize]
		if err := s.dev.WriteSector(uint32(r)+i, buf); err != nil {
			return fmt.Errorf("writing %v: %w", r, err)
		}
	}
	s.mu.Lock()
	s.swapOuts++
	s.mu.Unlock()
	return nil
}

// ReadIn reads run r into dst and frees the run. Reading consumes the slot:
// the run may be reallocated as soon as ReadIn returns successfully. If the
// read fails the run stays occupied.
//
// Preconditions: r is an occupied run.
func (s *Store) ReadIn(r Run, dst []byte) error {
	if !r.aligned() {
		panic(fmt.Sprintf("ReadIn: %v is not run-aligned", r))
	}
	if len(dst) != hostarch.PageSize {
		panic(fmt.Sprintf("ReadIn: buffer is %d bytes, want %d", len(dst), hostarch.PageSize))
	}
	s.mustBeOccupied("ReadIn", r)
	for i := uint32(0); i < SectorsPerPage; i++ {
		buf := dst[i*platform.SectorSize : (i+1)*platform.SectorSize]
		if err := s.dev.ReadSector(uint32(r)+i, buf); err != nil {
			return fmt.Errorf("reading %v: %w", r, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked("ReadIn", r)
	s.swapIns++
	return nil
}

// SwapOut writes page to a newly allocated run. On failure no run is left
// allocated.
func (s *Store) SwapOut(page []byte) (Run, error) {
	r, err := s.AllocateRun(SectorsPerPage)
	if err != nil {
		return 0, err
	}
	if err := s.WriteOut(r, page); err != nil {
		s.Free(r)
		return 0, err
	}
	return r, nil
}

// Free releases run r without reading it.
//
// Preconditions: r is an occupied run.
func (s *Store) Free(r Run) {
	if !r.aligned() {
		panic(fmt.Sprintf("Free: %v is not run-aligned", r))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked("Free", r)
}

func (s *Store) mustBeOccupied(op string, r Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOccupiedLocked(op, r)
}

// +checklocks:s.mu
func (s *Store) checkOccupiedLocked(op string, r Run) {
	end := uint32(r) + SectorsPerPage
	if end > s.used.Size() || !s.used.IsRangeSet(uint32(r), end) {
		panic(fmt.Sprintf("%s: %v is not occupied", op, r))
	}
}

// +checklocks:s.mu
func (s *Store) releaseLocked(op string, r Run) {
	s.checkOccupiedLocked(op, r)
	s.used.ClearRange(uint32(r), uint32(r)+SectorsPerPage)
}

// Occupied reports whether run r is allocated.
func (s *Store) Occupied(r Run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := uint32(r) + SectorsPerPage
	return r.aligned() && end <= s.used.Size() && s.used.IsRangeSet(uint32(r), end)
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Runs:     uint64(s.runs),
		UsedRuns: uint64(s.used.GetNumOnes() / SectorsPerPage),
		SwapOuts: s.swapOuts,
		SwapIns:  s.swapIns,
	}
}
