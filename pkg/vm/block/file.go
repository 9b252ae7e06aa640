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
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"vmcore.dev/vmcore/pkg/cleanup"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// lockSuffix is appended to a device path to name its lock file.
const lockSuffix = ".lock"

// FileDevice is a block device stored in a host file. Holders take an
// exclusive lock on a sibling lock file, so a swap file is never shared by
// two simulators.
type FileDevice struct {
	f       *os.File
	lock    *flock.Flock
	sectors uint32
}

var _ platform.BlockDevice = (*FileDevice)(nil)

// Create creates or truncates the file at path to hold the given number of
// sectors. It does not open the device.
func Create(path string, sectors uint32) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating swap file %q: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		return fmt.Errorf("sizing swap file %q to %d sectors: %w", path, sectors, err)
	}
	return nil
}

// Open opens the device at path. The device holds as many whole sectors as
// the file does; a partial trailing sector is ignored. Open fails with ErrBusy
// if another FileDevice holds the device.
func Open(path string) (*FileDevice, error) {
	l := flock.NewFlock(path + lockSuffix)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %w", l.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("swap file %q: %w", path, ErrBusy)
	}
	cu := cleanup.Make(func() { _ = l.Unlock() })
	defer cu.Clean()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening swap file: %w", err)
	}
	cu.Add(func() { _ = f.Close() })

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat swap file %q: %w", path, err)
	}
	sectors := fi.Size() / SectorSize
	if sectors > int64(^uint32(0)) {
		return nil, fmt.Errorf("swap file %q has %d sectors, too many to address", path, sectors)
	}
	cu.Release()
	log.Infof("Opened swap file %q with %d sectors", path, sectors)
	return &FileDevice{f: f, lock: l, sectors: uint32(sectors)}, nil
}

// ReadSector implements platform.BlockDevice.ReadSector.
func (d *FileDevice) ReadSector(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.sectors, buf); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("reading sector %d: %w", sector, err)
	}
	return nil
}

// WriteSector implements platform.BlockDevice.WriteSector.
func (d *FileDevice) WriteSector(sector uint32, buf []byte) error {
	if err := checkAccess(sector, d.sectors, buf); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("writing sector %d: %w", sector, err)
	}
	return nil
}

// Sectors implements platform.BlockDevice.Sectors.
func (d *FileDevice) Sectors() uint32 {
	return d.sectors
}

// Close closes the file and releases the device lock.
func (d *FileDevice) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
