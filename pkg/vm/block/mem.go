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

package block

import (
	"sync"
	"sync/atomic"

	"vmcore.dev/vmcore/pkg/vm/platform"
)

// MemDevice is a block device held in memory.
type MemDevice struct {
	mu   sync.RWMutex
	data []byte

	reads  atomic.Uint64
	writes atomic.Uint64

	// failWrites makes the next writes fail with the stored error.
	failWrites atomic.Pointer[error]
}

var _ platform.BlockDevice = (*MemDevice)(nil)

// NewMemDevice returns a zeroed device with the given number of sectors.
func NewMemDevice(sectors uint32) *MemDevice {
	return &MemDevice{data: make([]byte, int(sectors)*SectorSize)}
}

// ReadSector implements platform.BlockDevice.ReadSector.
func (d *MemDevice) ReadSector(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.Sectors(), buf); err != nil {
		return err
	}
	d.mu.RLock()
	copy(buf, d.data[int(sector)*SectorSize:])
	d.mu.RUnlock()
	d.reads.Add(1)
	return nil
}

// WriteSector implements platform.BlockDevice.WriteSector.
func (d *MemDevice) WriteSector(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.Sectors(), buf); err != nil {
		return err
	}
	if errp := d.failWrites.Load(); errp != nil {
		return *errp
	}
	d.mu.Lock()
	copy(d.data[int(sector)*SectorSize:], buf)
	d.mu.Unlock()
	d.writes.Add(1)
	return nil
}

// Sectors implements platform.BlockDevice.Sectors.
func (d *MemDevice) Sectors() uint32 {
	return uint32(len(d.data) / SectorSize)
}

// Reads returns the number of sectors read.
func (d *MemDevice) Reads() uint64 {
	return d.reads.Load()
}

// Writes returns the number of sectors written.
func (d *MemDevice) Writes() uint64 {
	return d.writes.Load()
}

// FailWrites makes every subsequent write fail with err, or succeed again if
// err is nil.
func (d *MemDevice) FailWrites(err error) {
	if err == nil {
		d.failWrites.Store(nil)
		return
	}
	d.failWrites.Store(&err)
}
