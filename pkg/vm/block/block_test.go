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
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"vmcore.dev/vmcore/pkg/vm/platform"
)

func sector(b byte) []byte {
	return bytes.Repeat([]byte{b}, SectorSize)
}

func testDevice(t *testing.T, d platform.BlockDevice) {
	t.Helper()
	if got := d.Sectors(); got != 16 {
		t.Fatalf("Sectors() = %d, want 16", got)
	}
	for i := uint32(0); i < d.Sectors(); i++ {
		if err := d.WriteSector(i, sector(byte(i+1))); err != nil {
			t.Fatalf("WriteSector(%d) failed: %v", i, err)
		}
	}
	buf := make([]byte, SectorSize)
	for i := uint32(0); i < d.Sectors(); i++ {
		if err := d.ReadSector(i, buf); err != nil {
			t.Fatalf("ReadSector(%d) failed: %v", i, err)
		}
		if !bytes.Equal(buf, sector(byte(i+1))) {
			t.Fatalf("sector %d content mismatch: got %#x..., want %#x...", i, buf[0], i+1)
		}
	}
	if err := d.ReadSector(16, buf); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReadSector past end got err %v, want %v", err, ErrOutOfRange)
	}
	if err := d.WriteSector(16, buf); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteSector past end got err %v, want %v", err, ErrOutOfRange)
	}
}

func TestMemDevice(t *testing.T) {
	d := NewMemDevice(16)
	testDevice(t, d)
	if d.Reads() != 16 || d.Writes() != 16 {
		t.Errorf("reads, writes = %d, %d, want 16, 16", d.Reads(), d.Writes())
	}
}

func TestMemDeviceFailWrites(t *testing.T) {
	d := NewMemDevice(1)
	errIO := errors.New("injected")
	d.FailWrites(errIO)
	if err := d.WriteSector(0, sector(1)); !errors.Is(err, errIO) {
		t.Errorf("WriteSector got err %v, want %v", err, errIO)
	}
	d.FailWrites(nil)
	if err := d.WriteSector(0, sector(1)); err != nil {
		t.Errorf("WriteSector got err %v, want nil", err)
	}
}

func TestShortBufferPanics(t *testing.T) {
	d := NewMemDevice(1)
	defer func() {
		if recover() == nil {
			t.Errorf("ReadSector with a short buffer did not panic")
		}
	}()
	_ = d.ReadSector(0, make([]byte, SectorSize-1))
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap")
	if err := Create(path, 16); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	testDevice(t, d)
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Content persists across opens.
	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer d.Close()
	buf := make([]byte, SectorSize)
	if err := d.ReadSector(3, buf); err != nil {
		t.Fatalf("ReadSector failed: %v", err)
	}
	if !bytes.Equal(buf, sector(4)) {
		t.Errorf("sector 3 did not persist")
	}
}

func TestFileDeviceExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap")
	if err := Create(path, 8); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrBusy) {
		t.Errorf("second Open got err %v, want %v", err, ErrBusy)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	d, err = Open(path)
	if err != nil {
		t.Fatalf("Open after Close failed: %v", err)
	}
	d.Close()
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("Open of a missing file succeeded")
	}
}
