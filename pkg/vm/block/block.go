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

// Package block provides block devices that can back the swap store.
package block

import (
	"errors"
	"fmt"

	"vmcore.dev/vmcore/pkg/vm/platform"
)

// SectorSize is the size of a sector on every device in this package.
const SectorSize = platform.SectorSize

var (
	// ErrOutOfRange is returned for accesses past the last sector.
	ErrOutOfRange = errors.New("sector out of range")

	// ErrBusy is returned by Open when another process holds the device.
	ErrBusy = errors.New("device is in use")
)

func checkAccess(sector, sectors uint32, buf []byte) error {
	if len(buf) != SectorSize {
		panic(fmt.Sprintf("sector buffer is %d bytes, want %d", len(buf), SectorSize))
	}
	if sector >= sectors {
		return fmt.Errorf("sector %d of %d: %w", sector, sectors, ErrOutOfRange)
	}
	return nil
}
